package matching

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Mismatch types as reported by mock servers.
const (
	TypeMethod   = "MethodMismatch"
	TypePath     = "PathMismatch"
	TypeQuery    = "QueryMismatch"
	TypeHeader   = "HeaderMismatch"
	TypeBodyType = "BodyTypeMismatch"
	TypeBody     = "BodyMismatch"
)

// Mismatch is one difference between an expected and an actual request.
type Mismatch struct {
	Type      string      `json:"type"`
	Path      string      `json:"path,omitempty"`
	Key       string      `json:"key,omitempty"`
	Parameter string      `json:"parameter,omitempty"`
	Expected  interface{} `json:"expected"`
	Actual    interface{} `json:"actual"`
	Mismatch  string      `json:"mismatch"`
}

func (m Mismatch) String() string {
	switch {
	case m.Path != "":
		return fmt.Sprintf("%s at %s: %s", m.Type, m.Path, m.Mismatch)
	case m.Key != "":
		return fmt.Sprintf("%s for header '%s': %s", m.Type, m.Key, m.Mismatch)
	case m.Parameter != "":
		return fmt.Sprintf("%s for query parameter '%s': %s", m.Type, m.Parameter, m.Mismatch)
	}
	return fmt.Sprintf("%s: %s", m.Type, m.Mismatch)
}

// textDiff renders the changes needed to turn expected into actual.
func textDiff(expected, actual string) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffCleanupSemantic(dmp.DiffMain(expected, actual, false))

	var sb strings.Builder
	for _, diff := range diffs {
		switch diff.Type {
		case diffmatchpatch.DiffDelete:
			sb.WriteString("[-" + diff.Text + "-]")
		case diffmatchpatch.DiffInsert:
			sb.WriteString("{+" + diff.Text + "+}")
		case diffmatchpatch.DiffEqual:
			sb.WriteString(diff.Text)
		}
	}
	return sb.String()
}
