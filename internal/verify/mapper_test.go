package verify

import (
	"context"
	"errors"
	"testing"

	"github.com/releasegate-sh/verifier/internal/filter"
	"github.com/releasegate-sh/verifier/internal/model"
)

func deployment(name string, containers ...model.Container) *model.Workload {
	return &model.Workload{
		Kind:       model.KindDeployment,
		Name:       name,
		Namespace:  "prod",
		Containers: containers,
	}
}

func TestMapper_Map(t *testing.T) {
	manifest := map[string]string{"api": "1.4.0", "worker": "2.0.1"}
	mapper, err := NewMapper("myteam", manifest, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	workloads := []*model.Workload{
		deployment("api",
			model.Container{Name: "api", Image: "gcr.io/acme/myteam/api:1.4.0"},
		),
		deployment("worker",
			model.Container{Name: "worker", Image: "gcr.io/acme/myteam/worker:2.0.1"},
			model.Container{Name: "unrelated", Image: "docker.io/library/redis:7"},
		),
	}

	index, err := mapper.Map(context.Background(), workloads)
	if err != nil {
		t.Fatal(err)
	}

	if len(index) != 2 {
		t.Fatalf("indexed %d components, want 2", len(index))
	}
	if got := len(index["api"]); got != 1 {
		t.Errorf("api carriers = %d, want 1", got)
	}
	if tag := index["worker"][0].Container.Tag; tag != "2.0.1" {
		t.Errorf("worker tag = %q, want 2.0.1", tag)
	}
	// redis is outside the manifest and must not be indexed.
	if _, ok := index["redis"]; ok {
		t.Error("non-manifest component was indexed")
	}
}

func TestMapper_MultiSegmentComponent(t *testing.T) {
	manifest := map[string]string{"api/server": "1.0.0"}
	mapper, err := NewMapper("myteam", manifest, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	workloads := []*model.Workload{
		deployment("api", model.Container{Name: "api", Image: "gcr.io/acme/myteam/api/server:1.0.0"}),
	}

	index, err := mapper.Map(context.Background(), workloads)
	if err != nil {
		t.Fatal(err)
	}
	if len(index["api/server"]) != 1 {
		t.Fatalf("expected api/server to be indexed, got %v", index)
	}
}

func TestMapper_SkipPatterns(t *testing.T) {
	manifest := map[string]string{"api": "1.0.0"}
	mapper, err := NewMapper("myteam", manifest, nil, filter.Patterns{"canary"})
	if err != nil {
		t.Fatal(err)
	}

	workloads := []*model.Workload{
		deployment("api", model.Container{Name: "api", Image: "gcr.io/acme/myteam/api:1.0.0"}),
		deployment("api-canary", model.Container{Name: "api", Image: "gcr.io/acme/myteam/api:2.0.0-rc1"}),
	}

	index, err := mapper.Map(context.Background(), workloads)
	if err != nil {
		t.Fatal(err)
	}

	carriers := index["api"]
	if len(carriers) != 2 {
		t.Fatalf("carriers = %d, want 2 (skipped carriers stay indexed)", len(carriers))
	}
	var skipped int
	for _, c := range carriers {
		if c.Container.Skipped {
			skipped++
			if c.Container.SkipPattern != "canary" {
				t.Errorf("skip pattern = %q, want canary", c.Container.SkipPattern)
			}
		}
	}
	if skipped != 1 {
		t.Errorf("skipped carriers = %d, want 1", skipped)
	}
}

func TestMapper_Aliases(t *testing.T) {
	manifest := map[string]string{"payments": "3.2.0"}
	aliases := map[string]string{"payments": "billing-svc"}
	mapper, err := NewMapper("myteam", manifest, aliases, nil)
	if err != nil {
		t.Fatal(err)
	}

	workloads := []*model.Workload{
		deployment("billing", model.Container{Name: "billing", Image: "gcr.io/acme/myteam/billing-svc:3.2.0"}),
	}

	index, err := mapper.Map(context.Background(), workloads)
	if err != nil {
		t.Fatal(err)
	}
	if len(index["payments"]) != 1 {
		t.Fatalf("alias did not translate, index: %v", index)
	}
	if comp := index["payments"][0].Container.Component; comp != "payments" {
		t.Errorf("container component = %q, want payments", comp)
	}
}

func TestMapper_AliasConflict(t *testing.T) {
	aliases := map[string]string{"payments": "svc", "billing": "svc"}
	_, err := NewMapper("myteam", map[string]string{}, aliases, nil)

	var conflict *AliasConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected AliasConflictError, got %v", err)
	}
	if conflict.ImageName != "svc" {
		t.Errorf("conflict image name = %q, want svc", conflict.ImageName)
	}
}

func TestMapper_AmbiguousComponent(t *testing.T) {
	manifest := map[string]string{"api": "1.0.0"}
	mapper, err := NewMapper("myteam", manifest, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	workloads := []*model.Workload{
		deployment("api", model.Container{Name: "api", Image: "gcr.io/acme/myteam/api:1.0.0"}),
		deployment("legacy", model.Container{Name: "api", Image: "quay.io/other/myteam/api:1.0.0"}),
	}

	_, err = mapper.Map(context.Background(), workloads)
	var ambiguous *AmbiguousComponentError
	if !errors.As(err, &ambiguous) {
		t.Fatalf("expected AmbiguousComponentError, got %v", err)
	}
	if ambiguous.Component != "api" {
		t.Errorf("ambiguous component = %q, want api", ambiguous.Component)
	}
	if len(ambiguous.Repositories) != 2 {
		t.Errorf("repositories = %v, want two entries", ambiguous.Repositories)
	}
}

func TestMapper_RolloutTagsNotAmbiguous(t *testing.T) {
	manifest := map[string]string{"api": "2.0.0"}
	mapper, err := NewMapper("myteam", manifest, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	workloads := []*model.Workload{
		deployment("api-old", model.Container{Name: "api", Image: "gcr.io/acme/myteam/api:1.0.0"}),
		deployment("api-new", model.Container{Name: "api", Image: "gcr.io/acme/myteam/api:2.0.0"}),
	}

	index, err := mapper.Map(context.Background(), workloads)
	if err != nil {
		t.Fatalf("two tags of one repository must not be ambiguous: %v", err)
	}
	if len(index["api"]) != 2 {
		t.Errorf("carriers = %d, want 2", len(index["api"]))
	}
}

func TestMapper_ResolutionFailureRecordedOnWorkload(t *testing.T) {
	manifest := map[string]string{"api": "1.0.0"}
	mapper, err := NewMapper("myteam", manifest, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	w := deployment("sidecar", model.Container{Name: "sidecar", Image: "docker.io/library/envoy:v1.29"})
	if _, err := mapper.Map(context.Background(), []*model.Workload{w}); err != nil {
		t.Fatal(err)
	}
	if len(w.Errs) != 1 {
		t.Fatalf("workload errors = %v, want one anchor resolution error", w.Errs)
	}
}
