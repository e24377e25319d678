// Package signals assembles the bounded diagnostic context for one incident:
// pod resources, node allocatable memory, recent namespace events, live
// memory usage and a byte-capped log tail. This bundle is the exact payload
// sent to the reasoning backend.
package signals

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"

	v1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	metricsclient "k8s.io/metrics/pkg/client/clientset/versioned"

	"github.com/JNickson/cluster-incident-agent/internal/incident"
	"github.com/JNickson/cluster-incident-agent/internal/utils"
)

// Context is the deterministic, size-bounded incident bundle. Fields that
// could not be fetched are left empty and named in Missing, so a partial
// context is still usable and the gap is visible downstream.
type Context struct {
	IncidentType string `json:"incident_type"`

	Pod       string `json:"pod"`
	Namespace string `json:"namespace"`
	Node      string `json:"node"`
	Container string `json:"container"`

	PodPhase      string `json:"pod_phase"`
	RestartPolicy string `json:"restart_policy"`
	RestartCount  int32  `json:"restart_count"`

	Resources Resources `json:"resources"`

	NodeAllocatableMemory string `json:"node_allocatable_memory,omitempty"`
	MemoryUsage           string `json:"memory_usage,omitempty"`

	Events  []string `json:"events,omitempty"`
	LogTail string   `json:"logs_tail,omitempty"`

	Missing []string `json:"missing_signals,omitempty"`
}

type Resources struct {
	MemoryRequest string `json:"memory_request,omitempty"`
	MemoryLimit   string `json:"memory_limit,omitempty"`
}

var errNoContainerMetrics = errors.New("no metrics for container")

// Only these event reasons carry memory-failure signal; everything else is
// namespace noise that would inflate the prompt.
var relevantEventReasons = map[string]bool{
	"OOMKilled": true,
	"BackOff":   true,
	"Killing":   true,
}

type Builder struct {
	kubeClient    kubernetes.Interface
	metricsClient metricsclient.Interface

	logTailLines int64
	logTailBytes int
	eventLimit   int
}

func NewBuilder(
	kubeClient kubernetes.Interface,
	metricsClient metricsclient.Interface,
	logTailLines int64,
	logTailBytes int,
	eventLimit int,
) *Builder {
	return &Builder{
		kubeClient:    kubeClient,
		metricsClient: metricsClient,
		logTailLines:  logTailLines,
		logTailBytes:  logTailBytes,
		eventLimit:    eventLimit,
	}
}

// Build gathers every signal best-effort. A failed sub-fetch marks the field
// absent instead of aborting assembly.
func (b *Builder) Build(ctx context.Context, snap incident.PodSnapshot) Context {
	out := Context{
		IncidentType:  snap.Reason,
		Pod:           snap.Name,
		Namespace:     snap.Namespace,
		Node:          snap.Node,
		Container:     snap.Container,
		PodPhase:      snap.Phase,
		RestartPolicy: snap.RestartPolicy,
		RestartCount:  snap.RestartCount,
	}

	if !snap.MemoryRequest.IsZero() {
		out.Resources.MemoryRequest = snap.MemoryRequest.String()
	}
	if !snap.MemoryLimit.IsZero() {
		out.Resources.MemoryLimit = snap.MemoryLimit.String()
	}

	if alloc, err := b.nodeAllocatable(ctx, snap.Node); err != nil {
		slog.Warn("node allocatable unavailable", "node", snap.Node, "error", err)
		out.Missing = append(out.Missing, "node_allocatable_memory")
	} else {
		out.NodeAllocatableMemory = alloc
	}

	if events, err := b.podEvents(ctx, snap); err != nil {
		slog.Warn("pod events unavailable", "pod", snap.Name, "error", err)
		out.Missing = append(out.Missing, "events")
	} else {
		out.Events = events
	}

	if tail, err := b.logTail(ctx, snap); err != nil {
		slog.Warn("log tail unavailable", "pod", snap.Name, "error", err)
		out.Missing = append(out.Missing, "logs_tail")
	} else {
		out.LogTail = tail
	}

	if usage, err := b.memoryUsage(ctx, snap); err != nil {
		slog.Debug("pod metrics unavailable", "pod", snap.Name, "error", err)
		out.Missing = append(out.Missing, "memory_usage")
	} else {
		out.MemoryUsage = usage
	}

	return out
}

func (b *Builder) nodeAllocatable(ctx context.Context, nodeName string) (string, error) {
	node, err := b.kubeClient.CoreV1().Nodes().Get(ctx, nodeName, metav1.GetOptions{})
	if err != nil {
		return "", err
	}

	mem := node.Status.Allocatable[v1.ResourceMemory]
	return utils.FormatMi(mem.Value()), nil
}

func (b *Builder) podEvents(ctx context.Context, snap incident.PodSnapshot) ([]string, error) {
	list, err := b.kubeClient.CoreV1().
		Events(snap.Namespace).
		List(ctx, metav1.ListOptions{
			FieldSelector: "involvedObject.name=" + snap.Name,
		})
	if err != nil {
		return nil, err
	}

	events := make([]v1.Event, 0, len(list.Items))
	for _, e := range list.Items {
		if e.InvolvedObject.Name != snap.Name {
			continue
		}
		if !relevantEventReasons[e.Reason] {
			continue
		}
		events = append(events, e)
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].LastTimestamp.Time.After(events[j].LastTimestamp.Time)
	})

	if len(events) > b.eventLimit {
		events = events[:b.eventLimit]
	}

	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.Reason+": "+e.Message)
	}
	return out, nil
}

func (b *Builder) logTail(ctx context.Context, snap incident.PodSnapshot) (string, error) {
	req := b.kubeClient.CoreV1().
		Pods(snap.Namespace).
		GetLogs(snap.Name, &v1.PodLogOptions{
			Container: snap.Container,
			TailLines: utils.Int64Ptr(b.logTailLines),
		})

	stream, err := req.Stream(ctx)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	data, err := io.ReadAll(stream)
	if err != nil {
		return "", err
	}

	return utils.TailBytes(string(data), b.logTailBytes), nil
}

func (b *Builder) memoryUsage(ctx context.Context, snap incident.PodSnapshot) (string, error) {
	metrics, err := b.metricsClient.MetricsV1beta1().
		PodMetricses(snap.Namespace).
		Get(ctx, snap.Name, metav1.GetOptions{})
	if err != nil {
		return "", err
	}

	for _, c := range metrics.Containers {
		if c.Name != snap.Container {
			continue
		}
		mem := c.Usage[v1.ResourceMemory]
		return utils.FormatMi(mem.Value()), nil
	}

	return "", errNoContainerMetrics
}
