package segmentation

// stateGroups is the pre-binned state-group lookup table used by both the
// decision tree's feature vector and the foreclosure-state classification.
// Unmapped states fall back to group 0 with a ModelFallback imputation.
var stateGroups = map[string]int{
	"CA": 1, "WA": 1, "OR": 1, "NV": 1, "AZ": 1,
	"NY": 2, "NJ": 2, "CT": 2, "MA": 2, "PA": 2,
	"TX": 3, "FL": 3, "GA": 3, "NC": 3, "SC": 3,
	"IL": 4, "OH": 4, "MI": 4, "IN": 4, "WI": 4,
	"CO": 5, "UT": 5, "ID": 5, "MT": 5, "WY": 5,
}

// judicialStates lists property states whose foreclosure process is
// judicial (longer delay) rather than non-judicial.
var judicialStates = map[string]bool{
	"NY": true, "NJ": true, "FL": true, "IL": true, "OH": true,
	"PA": true, "CT": true, "SC": true, "WI": true,
}

// StateGroup returns the pre-binned group for a two-letter state code.
// Unrecognised or absent states return (0, true) to signal imputation.
func StateGroup(state *string) (group int, imputed bool) {
	if state == nil {
		return 0, true
	}
	if g, ok := stateGroups[*state]; ok {
		return g, false
	}
	return 0, true
}

// IsJudicial reports whether a two-letter state code uses judicial
// foreclosure. Unrecognised or absent states default to non-judicial.
func IsJudicial(state *string) (judicial bool, imputed bool) {
	if state == nil {
		return false, true
	}
	if j, ok := judicialStates[*state]; ok {
		return j, false
	}
	return false, true
}
