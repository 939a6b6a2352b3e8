/**
 * Resources and mirrors — the acquisition engine's addressing model.
 *
 * Author: fetchkit Team
 */

package mirror

import "time"

// Mirror is one candidate source for a resource's bytes.
type Mirror struct {
	Metadata map[string]interface{}
	ID       string
	Location string
}

// Weight returns the mirror's selection weight, defaulting to 0 when
// unset or not an int.
func (m Mirror) Weight() int {
	if m.Metadata == nil {
		return 0
	}
	switch w := m.Metadata["weight"].(type) {
	case int:
		return w
	case int64:
		return int(w)
	case float64:
		return int(w)
	default:
		return 0
	}
}

// Resource is a single acquirable unit: a main mirror plus zero or more
// alternates.
type Resource struct {
	LocalLocation *string
	ModTime       *time.Time
	ID            string
	Main          Mirror
	Alternates    []Mirror
}

// AllMirrors returns alternates sorted by descending weight, with the main
// mirror appended last regardless of its own weight — the main mirror is
// always the final fallback, never a weight-sorted participant.
func (r Resource) AllMirrors() []Mirror {
	out := make([]Mirror, 0, len(r.Alternates)+1)
	out = append(out, r.Alternates...)
	sortByWeightDesc(out)
	out = append(out, r.Main)
	return out
}

func sortByWeightDesc(mirrors []Mirror) {
	for i := 1; i < len(mirrors); i++ {
		for j := i; j > 0 && mirrors[j].Weight() > mirrors[j-1].Weight(); j-- {
			mirrors[j], mirrors[j-1] = mirrors[j-1], mirrors[j]
		}
	}
}
