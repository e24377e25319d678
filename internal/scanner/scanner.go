// Package scanner detects abnormal memory events by polling pod status and
// deduplicates them against the incident store.
package scanner

import (
	"context"
	"fmt"
	"time"

	v1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/JNickson/cluster-incident-agent/internal/incident"
	"github.com/JNickson/cluster-incident-agent/internal/utils"
)

const (
	reasonOOMKilled        = "OOMKilled"
	reasonCrashLoopBackOff = "CrashLoopBackOff"
	reasonRestarts         = "ExcessiveRestarts"
)

type Options struct {
	// Namespace limits the scan; empty means all namespaces.
	Namespace string

	// RestartThreshold is the restart count at or above which a container
	// is abnormal, provided its last restart falls within DetectionWindow.
	RestartThreshold int32
	DetectionWindow  time.Duration
}

type Scanner struct {
	client kubernetes.Interface
	store  *incident.Store
	opts   Options
}

func New(client kubernetes.Interface, store *incident.Store, opts Options) *Scanner {
	return &Scanner{
		client: client,
		store:  store,
		opts:   opts,
	}
}

// Scan lists pod status once and returns the newly detected incidents.
// Signatures already recorded in the store are suppressed, so an unchanged
// failure produces nothing on subsequent cycles.
func (s *Scanner) Scan(ctx context.Context) ([]*incident.Incident, error) {
	list, err := s.client.CoreV1().
		Pods(s.opts.Namespace).
		List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list pods: %w", err)
	}

	var out []*incident.Incident

	for _, p := range list.Items {

		// Ignore pods not yet scheduled
		if p.Spec.NodeName == "" {
			continue
		}
		if p.Status.Phase == v1.PodSucceeded {
			continue
		}

		cs, ok := s.abnormalContainer(p)
		if !ok {
			continue
		}

		snap := mapSnapshot(p, cs)

		if !s.store.MarkIfNew(snap.Signature()) {
			continue
		}

		out = append(out, incident.New(snap))
	}

	return out, nil
}

// abnormalContainer returns the first container status that trips the
// detection predicate: an OOM-killed last termination, a CrashLoopBackOff
// wait, or a restart count at the threshold with a recent restart.
func (s *Scanner) abnormalContainer(p v1.Pod) (v1.ContainerStatus, bool) {
	now := utils.Now()

	for _, cs := range p.Status.ContainerStatuses {

		// Under restartPolicy Never the kill lives in the current state with
		// no last termination and a zero restart count.
		if term := cs.State.Terminated; term != nil && term.Reason == reasonOOMKilled {
			return cs, true
		}

		if term := cs.LastTerminationState.Terminated; term != nil {
			if term.Reason == reasonOOMKilled {
				return cs, true
			}
		}

		if wait := cs.State.Waiting; wait != nil && wait.Reason == reasonCrashLoopBackOff {
			return cs, true
		}

		if cs.RestartCount >= s.opts.RestartThreshold {
			term := cs.LastTerminationState.Terminated
			if term != nil && now.Sub(term.FinishedAt.Time) <= s.opts.DetectionWindow {
				return cs, true
			}
		}
	}

	return v1.ContainerStatus{}, false
}

func mapSnapshot(p v1.Pod, cs v1.ContainerStatus) incident.PodSnapshot {
	snap := incident.PodSnapshot{
		Namespace:     p.Namespace,
		Name:          p.Name,
		UID:           string(p.UID),
		Node:          p.Spec.NodeName,
		Container:     cs.Name,
		Phase:         string(p.Status.Phase),
		RestartPolicy: string(p.Spec.RestartPolicy),
		RestartCount:  cs.RestartCount,
		Reason:        resolveReason(cs),
		ObservedAt:    utils.Now(),
	}

	for _, c := range p.Spec.Containers {
		if c.Name != cs.Name {
			continue
		}
		if q, ok := c.Resources.Requests[v1.ResourceMemory]; ok {
			snap.MemoryRequest = q
		}
		if q, ok := c.Resources.Limits[v1.ResourceMemory]; ok {
			snap.MemoryLimit = q
		}
	}

	return snap
}

func resolveReason(cs v1.ContainerStatus) string {
	if term := cs.LastTerminationState.Terminated; term != nil && term.Reason != "" {
		return term.Reason
	}

	if term := cs.State.Terminated; term != nil && term.Reason != "" {
		return term.Reason
	}

	if wait := cs.State.Waiting; wait != nil && wait.Reason != "" {
		return wait.Reason
	}

	return reasonRestarts
}
