// Package incident holds the analysis lifecycle record for one detected
// abnormal pod event, plus the store that deduplicates failure signatures
// across scan cycles.
package incident

import (
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/JNickson/cluster-incident-agent/internal/utils"
)

// State is the incident lifecycle position. Transitions only advance, one
// step at a time; a recurring failure creates a new Incident instead of
// reopening an old one.
type State int

const (
	Detected State = iota
	ContextBuilt
	Explained
	PolicyEvaluated
	Reported
)

func (s State) String() string {
	switch s {
	case Detected:
		return "Detected"
	case ContextBuilt:
		return "ContextBuilt"
	case Explained:
		return "Explained"
	case PolicyEvaluated:
		return "PolicyEvaluated"
	case Reported:
		return "Reported"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// PodSnapshot captures the observed state of one failing pod. Immutable once
// captured; a later observation produces a new snapshot.
type PodSnapshot struct {
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
	UID       string `json:"uid"`
	Node      string `json:"node"`
	Container string `json:"container"`

	Phase         string `json:"phase"`
	RestartPolicy string `json:"restartPolicy"`
	RestartCount  int32  `json:"restartCount"`

	// Reason is the last container termination reason, or the waiting
	// reason when the container never terminated cleanly.
	Reason string `json:"reason"`

	MemoryRequest resource.Quantity `json:"memoryRequest"`
	MemoryLimit   resource.Quantity `json:"memoryLimit"`

	ObservedAt time.Time `json:"observedAt"`
}

// Signature derives the dedup key for this observation. Two scans seeing the
// same signature refer to the same failure and must not both reach the
// reasoning backend.
func (s PodSnapshot) Signature() string {
	return fmt.Sprintf("%s|%d|%s", s.UID, s.RestartCount, s.Reason)
}

// Subject is the deny-list key, namespace-scoped.
func (s PodSnapshot) Subject() string {
	return s.Namespace + "/" + s.Name
}

type Incident struct {
	ID        string      `json:"id"`
	Snapshot  PodSnapshot `json:"snapshot"`
	State     State       `json:"state"`
	CreatedAt time.Time   `json:"createdAt"`
}

func New(snap PodSnapshot) *Incident {
	return &Incident{
		ID:        ulid.Make().String(),
		Snapshot:  snap,
		State:     Detected,
		CreatedAt: utils.Now(),
	}
}

// Advance moves the incident to the next lifecycle state. Skipping states or
// moving backwards is a programming error and is rejected.
func (i *Incident) Advance(next State) error {
	if next != i.State+1 {
		return fmt.Errorf("incident %s: illegal transition %s -> %s", i.ID, i.State, next)
	}

	i.State = next
	return nil
}
