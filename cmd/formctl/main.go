// formctl checks and previews form schemas offline.
//
// Usage:
//
//	# Report every authoring problem in a schema
//	formctl validate signup.yaml
//
//	# Show field states for a set of answers
//	formctl evaluate signup.yaml --answers answers.yaml
//
//	# Walk the steps a respondent would see
//	formctl steps signup.yaml --answers answers.yaml
//
// Schemas and answers may be written in YAML or JSON.
package main

func main() {
	Execute()
}
