package engine_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/releasegate-sh/verifier/internal/discovery"
	"github.com/releasegate-sh/verifier/internal/engine"
	"github.com/releasegate-sh/verifier/internal/model"
	"github.com/releasegate-sh/verifier/internal/stability"
	"github.com/releasegate-sh/verifier/internal/verify"
)

// scriptedDiscoverer replays one snapshot per tick and keeps serving the
// last one when the script runs out.
type scriptedDiscoverer struct {
	snapshots [][]*model.Workload
	errs      [][]error
	calls     int
}

func (s *scriptedDiscoverer) Discover(ctx context.Context) ([]*model.Workload, []string, []error) {
	i := s.calls
	if i >= len(s.snapshots) {
		i = len(s.snapshots) - 1
	}
	s.calls++
	var errs []error
	if i < len(s.errs) {
		errs = s.errs[i]
	}
	// fresh copies: the engine mutates container fields during mapping
	return copySnapshot(s.snapshots[i]), nil, errs
}

func copySnapshot(workloads []*model.Workload) []*model.Workload {
	out := make([]*model.Workload, 0, len(workloads))
	for _, w := range workloads {
		clone := *w
		clone.Containers = append([]model.Container(nil), w.Containers...)
		clone.Pods = append([]model.PodObservation(nil), w.Pods...)
		clone.Errs = nil
		out = append(out, &clone)
	}
	return out
}

type recordingSink struct {
	mu           sync.Mutex
	gateEvents   []model.GateEvent
	observations []model.WorkloadObservation
}

func (r *recordingSink) GateEvent(_ context.Context, ev model.GateEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gateEvents = append(r.gateEvents, ev)
}

func (r *recordingSink) Observation(_ context.Context, obs model.WorkloadObservation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observations = append(r.observations, obs)
}

func healthyDeployment(name, image string) *model.Workload {
	return &model.Workload{
		Kind:               model.KindDeployment,
		Name:               name,
		Namespace:          "prod",
		Generation:         1,
		ObservedGeneration: 1,
		DesiredReplicas:    1,
		ReadyReplicas:      1,
		UpdatedReplicas:    1,
		AvailableReplicas:  1,
		Containers:         []model.Container{{Name: name, Image: image}},
		Pods: []model.PodObservation{{
			Name:      name + "-0",
			Phase:     "Running",
			Ready:     true,
			StartedAt: time.Now().Add(-time.Hour),
		}},
	}
}

func convergingDeployment(name, image string) *model.Workload {
	w := healthyDeployment(name, image)
	w.ReadyReplicas = 0
	w.AvailableReplicas = 0
	w.Pods[0].Ready = false
	return w
}

var _ = Describe("Engine", func() {
	var (
		mapper  *verify.Mapper
		auditor *stability.Auditor
	)

	manifest := map[string]string{"api": "2.0.0"}

	newEngine := func(cfg engine.Config, disc engine.Discoverer, sink engine.Sink) *engine.Engine {
		cfg.Manifest = manifest
		cfg.Namespace = "prod"
		cfg.RunID = "run-test"
		return engine.New(cfg, disc, mapper, auditor, sink)
	}

	BeforeEach(func() {
		var err error
		mapper, err = verify.NewMapper("myteam", manifest, nil, nil)
		Expect(err).NotTo(HaveOccurred())
		auditor = stability.NewAuditor(stability.Policy{RestartThreshold: 3})
	})

	It("passes on the first tick when the namespace already matches", func() {
		disc := &scriptedDiscoverer{snapshots: [][]*model.Workload{
			{healthyDeployment("api", "gcr.io/acme/myteam/api:2.0.0")},
		}}
		eng := newEngine(engine.Config{Timeout: time.Second, PollInterval: time.Millisecond}, disc, nil)

		result := eng.Run(context.Background())

		Expect(result.Status).To(Equal(model.StatusPass))
		Expect(result.Ticks).To(Equal(1))
		Expect(result.Status.ExitCode()).To(Equal(0))
	})

	It("converges on a later tick after an initial mismatch", func() {
		disc := &scriptedDiscoverer{snapshots: [][]*model.Workload{
			{healthyDeployment("api", "gcr.io/acme/myteam/api:1.9.0")},
			{convergingDeployment("api", "gcr.io/acme/myteam/api:2.0.0")},
			{healthyDeployment("api", "gcr.io/acme/myteam/api:2.0.0")},
		}}
		eng := newEngine(engine.Config{Timeout: 5 * time.Second, PollInterval: time.Millisecond}, disc, nil)

		result := eng.Run(context.Background())

		Expect(result.Status).To(Equal(model.StatusPass))
		Expect(result.Ticks).To(Equal(3))
		Expect(result.Components).To(HaveLen(1))
		Expect(result.Components[0].Status).To(Equal(model.ComponentMatch))
	})

	It("times out when the namespace never converges", func() {
		disc := &scriptedDiscoverer{snapshots: [][]*model.Workload{
			{healthyDeployment("api", "gcr.io/acme/myteam/api:1.0.0")},
		}}
		eng := newEngine(engine.Config{Timeout: 20 * time.Millisecond, PollInterval: 5 * time.Millisecond}, disc, nil)

		result := eng.Run(context.Background())

		Expect(result.Status).To(Equal(model.StatusTimeout))
		Expect(result.Status.ExitCode()).To(Equal(2))
		Expect(result.Ticks).To(BeNumerically(">=", 1))
		Expect(result.Errors).To(ContainElement(ContainSubstring("timed out")))
	})

	It("runs exactly one tick in dry-run mode and fails on mismatch", func() {
		disc := &scriptedDiscoverer{snapshots: [][]*model.Workload{
			{healthyDeployment("api", "gcr.io/acme/myteam/api:1.0.0")},
		}}
		eng := newEngine(engine.Config{DryRun: true, Timeout: time.Minute}, disc, nil)

		result := eng.Run(context.Background())

		Expect(result.Status).To(Equal(model.StatusFail))
		Expect(result.Ticks).To(Equal(1))
		Expect(disc.calls).To(Equal(1))
	})

	It("aborts with Fail on connectivity loss and keeps the prior snapshot", func() {
		disc := &scriptedDiscoverer{
			snapshots: [][]*model.Workload{
				{healthyDeployment("api", "gcr.io/acme/myteam/api:1.0.0")},
				nil,
			},
			errs: [][]error{
				nil,
				{fmt.Errorf("listing failed for every enabled kind: %w", discovery.ErrClusterUnreachable)},
			},
		}
		eng := newEngine(engine.Config{Timeout: time.Minute, PollInterval: time.Millisecond}, disc, nil)

		result := eng.Run(context.Background())

		Expect(result.Status).To(Equal(model.StatusFail))
		Expect(result.Errors).To(ContainElement(ContainSubstring("cluster unreachable")))
		// the mismatching tick-1 snapshot survives for the report
		Expect(result.Components).To(HaveLen(1))
		Expect(result.Components[0].Status).To(Equal(model.ComponentMismatch))
	})

	It("aborts with Fail on an ambiguous component", func() {
		disc := &scriptedDiscoverer{snapshots: [][]*model.Workload{
			{
				healthyDeployment("api", "gcr.io/acme/myteam/api:2.0.0"),
				healthyDeployment("api-legacy", "quay.io/other/myteam/api:2.0.0"),
			},
		}}
		eng := newEngine(engine.Config{Timeout: time.Minute}, disc, nil)

		result := eng.Run(context.Background())

		Expect(result.Status).To(Equal(model.StatusFail))
		Expect(result.Errors).To(ContainElement(ContainSubstring("multiple image repositories")))
	})

	It("never passes while a required workload is absent", func() {
		disc := &scriptedDiscoverer{snapshots: [][]*model.Workload{
			{healthyDeployment("api", "gcr.io/acme/myteam/api:2.0.0")},
		}}
		eng := newEngine(engine.Config{
			DryRun:            true,
			RequiredWorkloads: []string{"frontend"},
		}, disc, nil)

		result := eng.Run(context.Background())

		Expect(result.Status).To(Equal(model.StatusFail))
		verdicts := make(map[string]model.Verdict)
		for _, w := range result.Workloads {
			verdicts[w.Name] = w.Verdict
		}
		Expect(verdicts).To(HaveKeyWithValue("frontend", model.VerdictMissing))
	})

	It("stops between ticks when the context is cancelled", func() {
		disc := &scriptedDiscoverer{snapshots: [][]*model.Workload{
			{healthyDeployment("api", "gcr.io/acme/myteam/api:1.0.0")},
		}}
		eng := newEngine(engine.Config{Timeout: time.Minute, PollInterval: time.Hour}, disc, nil)

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()

		result := eng.Run(ctx)

		Expect(result.Status).To(Equal(model.StatusFail))
		Expect(result.Ticks).To(Equal(1))
		Expect(result.Errors).To(ContainElement(ContainSubstring("aborted")))
	})

	It("emits lifecycle events and per-workload observations", func() {
		sink := &recordingSink{}
		disc := &scriptedDiscoverer{snapshots: [][]*model.Workload{
			{healthyDeployment("api", "gcr.io/acme/myteam/api:2.0.0")},
		}}
		eng := newEngine(engine.Config{DryRun: true}, disc, sink)

		eng.Run(context.Background())

		Expect(sink.gateEvents).To(HaveLen(2))
		Expect(sink.gateEvents[0].Phase).To(Equal(model.GatePhaseStarted))
		Expect(sink.gateEvents[1].Phase).To(Equal(model.GatePhaseTick))
		Expect(sink.gateEvents[1].ComponentsOK).To(Equal(1))
		Expect(sink.observations).To(HaveLen(1))
		Expect(sink.observations[0].Workload.Name).To(Equal("api"))
		Expect(sink.observations[0].Verdict).To(Equal(model.VerdictStable))
		Expect(sink.observations[0].ReadyReplicas).To(Equal(int32(1)))
	})
})
