package cwl

// Document classes.
const (
	ClassWorkflow        = "Workflow"
	ClassCommandLineTool = "CommandLineTool"
	ClassExpressionTool  = "ExpressionTool"
)

// Requirement classes emitted on generated workflows.
const (
	SubworkflowFeatureRequirement   = "SubworkflowFeatureRequirement"
	ScatterFeatureRequirement       = "ScatterFeatureRequirement"
	InlineJavascriptRequirement     = "InlineJavascriptRequirement"
	StepInputExpressionRequirement  = "StepInputExpressionRequirement"
	MultipleInputFeatureRequirement = "MultipleInputFeatureRequirement"
)

// Scatter methods.
const (
	ScatterDotProduct         = "dotproduct"
	ScatterNestedCrossProduct = "nested_crossproduct"
	ScatterFlatCrossProduct   = "flat_crossproduct"
)

// ValidScatterMethod reports whether m is a CWL scatter method. The empty
// string selects the default (dotproduct).
func ValidScatterMethod(m string) bool {
	switch m {
	case "", ScatterDotProduct, ScatterNestedCrossProduct, ScatterFlatCrossProduct:
		return true
	}
	return false
}

// ScatteredType returns the output type of a step whose outputs of type t
// are gathered over n scattered inputs with the given method.
func ScatteredType(t string, n int, method string) string {
	if n == 0 {
		return t
	}
	levels := 1
	if method == ScatterNestedCrossProduct {
		levels = n
	}
	for i := 0; i < levels; i++ {
		t = ArrayOf(t)
	}
	return t
}
