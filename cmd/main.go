/*
Copyright 2024.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/releasegate-sh/verifier/internal/buildinfo"
	"github.com/releasegate-sh/verifier/internal/cluster"
	"github.com/releasegate-sh/verifier/internal/discovery"
	"github.com/releasegate-sh/verifier/internal/engine"
	"github.com/releasegate-sh/verifier/internal/hooks"
	"github.com/releasegate-sh/verifier/internal/hooks/controlplane"
	"github.com/releasegate-sh/verifier/internal/hooks/pubsub"
	"github.com/releasegate-sh/verifier/internal/model"
	"github.com/releasegate-sh/verifier/internal/report"
	"github.com/releasegate-sh/verifier/internal/stability"
	"github.com/releasegate-sh/verifier/internal/verify"

	// Import all Kubernetes client auth plugins (e.g. Azure, GCP, OIDC, etc.)
	// so kubeconfig contexts that rely on them keep working.
	_ "k8s.io/client-go/plugin/pkg/client/auth"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
)

var setupLog = ctrl.Log.WithName("setup")

// config holds all command-line configuration
type config struct {
	kubeContext         string
	gkeProject          string
	namespace           string
	manifestJSON        string
	manifestFile        string
	componentAliases    string
	anchor              string
	requiredWorkloads   string
	skipContainers      string
	minUptime           time.Duration
	restartThreshold    int
	timeout             time.Duration
	pollInterval        time.Duration
	allowZeroReplicas   bool
	dryRun              bool
	includeStatefulSets bool
	includeDaemonSets   bool
	includeJobs         bool
	insecure            bool
	metricsAddr         string
	controlPlaneURL     string
	pubsubTopic         string
	clusterID           string
	publishObservations bool
}

func main() {
	cfg, zapOpts := parseFlags()

	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&zapOpts)))

	manifest, aliases := loadManifest(cfg)
	if cfg.kubeContext != "" && cfg.gkeProject != "" {
		setupLog.Error(nil, "--context and --gke-project are mutually exclusive")
		os.Exit(1)
	}

	ctx := ctrl.SetupSignalHandler()

	reader, connection, err := cluster.Connect(ctx, cluster.Options{
		Context:    cfg.kubeContext,
		GKEProject: cfg.gkeProject,
		Insecure:   cfg.insecure,
	})
	if err != nil {
		setupLog.Error(err, "unable to connect to cluster")
		os.Exit(1)
	}

	namespace := cfg.namespace
	if namespace == "" {
		namespace = cluster.CurrentNamespace()
		setupLog.Info("namespace auto-detected", "namespace", namespace)
	}

	mapper, err := verify.NewMapper(cfg.anchor, manifest, aliases, splitAndTrim(cfg.skipContainers))
	if err != nil {
		setupLog.Error(err, "invalid component aliases")
		os.Exit(1)
	}

	discoverer := discovery.New(reader, discovery.Options{
		Namespace:           namespace,
		IncludeStatefulSets: cfg.includeStatefulSets,
		IncludeDaemonSets:   cfg.includeDaemonSets,
		IncludeJobs:         cfg.includeJobs,
		SkipWorkloads:       splitAndTrim(cfg.skipContainers),
	})

	auditor := stability.NewAuditor(stability.Policy{
		RestartThreshold:  int32(cfg.restartThreshold),
		MinUptime:         cfg.minUptime,
		AllowZeroReplicas: cfg.allowZeroReplicas,
	})

	runID := uuid.New().String()
	source := model.SourceMetadata{
		ClusterID: resolveClusterID(ctx, cfg, connection),
		Version:   buildinfo.Version(),
	}

	sink, shutdown := setupPublishers(ctx, cfg, source.ClusterID)
	serveMetrics(cfg.metricsAddr)

	// a nil *hooks.Sink must stay a nil engine.Sink
	var engineSink engine.Sink
	if sink != nil {
		engineSink = sink
	}

	eng := engine.New(engine.Config{
		Namespace:         namespace,
		Manifest:          manifest,
		RequiredWorkloads: splitAndTrim(cfg.requiredWorkloads),
		PollInterval:      cfg.pollInterval,
		Timeout:           cfg.timeout,
		DryRun:            cfg.dryRun,
		RunID:             runID,
		Source:            source,
	}, discoverer, mapper, auditor, engineSink)

	result := eng.Run(ctx)

	rep := report.Build(report.Metadata{
		RunID:     runID,
		Context:   connection,
		Namespace: namespace,
		At:        time.Now(),
	}, &result)

	publishCompletion(ctx, sink, rep, runID, namespace, &result, source)
	shutdown()

	if err := rep.Write(os.Stdout); err != nil {
		setupLog.Error(err, "unable to write report")
		os.Exit(1)
	}
	os.Exit(result.Status.ExitCode())
}

func parseFlags() (config, zap.Options) {
	var cfg config

	flag.StringVar(&cfg.kubeContext, "context", "", "Kubeconfig context to verify against")
	flag.StringVar(&cfg.gkeProject, "gke-project", "",
		"GKE project whose kubeconfig context should be used (mutually exclusive with --context)")
	flag.StringVar(&cfg.namespace, "namespace", "",
		"Namespace to verify (defaults to the kubeconfig or service account namespace)")
	flag.StringVar(&cfg.manifestJSON, "manifest", "",
		"Version manifest as a JSON object of component to expected version")
	flag.StringVar(&cfg.manifestFile, "manifest-file", "",
		"Path to a JSON or YAML version manifest (mutually exclusive with --manifest)")
	flag.StringVar(&cfg.componentAliases, "component-aliases", "",
		"JSON object mapping manifest keys to image path component names")
	flag.StringVar(&cfg.anchor, "anchor", "",
		"Image path segment that marks where component names start (required)")
	flag.StringVar(&cfg.requiredWorkloads, "required-workloads", "",
		"Comma-separated name patterns that must match at least one workload")
	flag.StringVar(&cfg.skipContainers, "skip-containers", "",
		"Comma-separated name patterns excluding containers and workloads from verification")
	flag.DurationVar(&cfg.minUptime, "min-uptime", 0,
		"Minimum pod uptime before a workload counts as stable (0 disables)")
	flag.IntVar(&cfg.restartThreshold, "restart-threshold", 3,
		"Highest tolerated container restart count")
	flag.DurationVar(&cfg.timeout, "timeout", 5*time.Minute,
		"Wall-clock limit for the verification run")
	flag.DurationVar(&cfg.pollInterval, "poll-interval", 10*time.Second,
		"Delay between verification ticks")
	flag.BoolVar(&cfg.allowZeroReplicas, "allow-zero-replicas", false,
		"Treat workloads scaled to zero as stable")
	flag.BoolVar(&cfg.dryRun, "dry-run", false,
		"Run a single verification tick and exit")
	flag.BoolVar(&cfg.includeStatefulSets, "include-statefulsets", false,
		"Verify StatefulSets in addition to Deployments")
	flag.BoolVar(&cfg.includeDaemonSets, "include-daemonsets", false,
		"Verify DaemonSets in addition to Deployments")
	flag.BoolVar(&cfg.includeJobs, "include-jobs", false,
		"Verify Jobs and CronJobs in addition to Deployments")
	flag.BoolVar(&cfg.insecure, "insecure-skip-tls-verify", false,
		"Skip TLS certificate verification for the cluster connection")
	flag.StringVar(&cfg.metricsAddr, "metrics-bind-address", "0",
		"The address the metrics endpoint binds to. Set to 0 to disable the metrics service.")
	flag.StringVar(&cfg.controlPlaneURL, "controlplane-url", "",
		"Base URL of the release control plane receiving gate events")
	flag.StringVar(&cfg.pubsubTopic, "pubsub-topic", os.Getenv("PUBSUB_TOPIC"),
		"Google Cloud Pub/Sub topic path (projects/<project>/topics/<topic>)")
	flag.StringVar(&cfg.clusterID, "cluster-id", os.Getenv("CLUSTER_ID"),
		"Unique identifier for this cluster (auto-resolved from GCP metadata when unset)")
	flag.BoolVar(&cfg.publishObservations, "publish-observations", false,
		"Publish per-workload observations in addition to gate events")

	zapOpts := zap.Options{Development: true}
	zapOpts.BindFlags(flag.CommandLine)
	flag.Parse()

	if cfg.anchor == "" {
		setupLog.Error(nil, "--anchor is required")
		os.Exit(1)
	}
	return cfg, zapOpts
}

// loadManifest parses the manifest and alias flags. Both are fatal before
// any cluster access on malformed input.
func loadManifest(cfg config) (map[string]string, map[string]string) {
	if (cfg.manifestJSON == "") == (cfg.manifestFile == "") {
		setupLog.Error(nil, "exactly one of --manifest and --manifest-file is required")
		os.Exit(1)
	}

	data := []byte(cfg.manifestJSON)
	if cfg.manifestFile != "" {
		var err error
		data, err = os.ReadFile(cfg.manifestFile)
		if err != nil {
			setupLog.Error(err, "unable to read manifest file", "path", cfg.manifestFile)
			os.Exit(1)
		}
	}
	manifest, err := verify.ParseManifest(data)
	if err != nil {
		setupLog.Error(err, "invalid manifest")
		os.Exit(1)
	}

	var aliases map[string]string
	if cfg.componentAliases != "" {
		if err := json.Unmarshal([]byte(cfg.componentAliases), &aliases); err != nil {
			setupLog.Error(err, "invalid component aliases")
			os.Exit(1)
		}
		for key := range aliases {
			if _, ok := manifest[key]; !ok {
				setupLog.Info("alias key is not in the manifest", "component", key)
			}
		}
	}
	return manifest, aliases
}

// resolveClusterID is only needed when events leave the process.
func resolveClusterID(ctx context.Context, cfg config, connection string) string {
	if cfg.controlPlaneURL == "" && cfg.pubsubTopic == "" {
		return cfg.clusterID
	}
	id := cluster.ResolveClusterID(ctx, cfg.clusterID, connection)
	if id == "" {
		setupLog.Info("cluster identity could not be resolved, events will carry an empty clusterId")
	}
	return id
}

// setupPublishers wires the configured sinks behind buffered queues. The
// returned shutdown func closes the sink and waits for the queues to drain.
func setupPublishers(ctx context.Context, cfg config, clusterID string) (*hooks.Sink, func()) {
	var gatePublishers []hooks.GateEventPublisher
	var obsPublishers []hooks.ObservationPublisher

	if cfg.controlPlaneURL != "" {
		cpPublisher := controlplane.NewHTTPPublisher(cfg.controlPlaneURL)
		gatePublishers = append(gatePublishers, cpPublisher)
		obsPublishers = append(obsPublishers, cpPublisher)
		setupLog.Info("control plane publisher enabled", "url", cfg.controlPlaneURL)
	}

	if cfg.pubsubTopic != "" {
		psPublisher, err := pubsub.NewPublisher(ctx, cfg.pubsubTopic, clusterID)
		if err != nil {
			setupLog.Error(err, "unable to create Pub/Sub publisher",
				"hint", "Ensure valid credentials via Workload Identity, GOOGLE_APPLICATION_CREDENTIALS, or gcloud auth")
			os.Exit(1)
		}
		gatePublishers = append(gatePublishers, psPublisher)
		obsPublishers = append(obsPublishers, psPublisher)
		setupLog.Info("Google Pub/Sub publisher enabled", "topic", cfg.pubsubTopic)
	}

	if len(gatePublishers) == 0 {
		return nil, func() {}
	}

	sink := hooks.NewSink()
	gateQueue := hooks.NewGateEventQueue(sink.GateEvents(), gatePublishers)
	go gateQueue.Loop()

	if !cfg.publishObservations {
		obsPublishers = nil
	}
	obsQueue := hooks.NewObservationQueue(sink.Observations(), obsPublishers, hooks.DefaultBatchConfig())
	go obsQueue.Loop()

	shutdown := func() {
		sink.Close()
		<-gateQueue.Done()
		<-obsQueue.Done()
	}
	return sink, shutdown
}

// publishCompletion emits the COMPLETED gate event carrying the full report.
func publishCompletion(ctx context.Context, sink *hooks.Sink, rep report.Report,
	runID, namespace string, result *model.VerificationResult, source model.SourceMetadata) {
	if sink == nil {
		return
	}
	ev := model.NewGateEvent(model.GatePhaseCompleted, runID, namespace,
		result.Ticks, result.Elapsed, result, source)
	if raw, err := json.Marshal(rep); err == nil {
		ev.Report = raw
	}
	sink.GateEvent(ctx, ev)
}

func serveMetrics(addr string) {
	if addr == "" || addr == "0" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			setupLog.Error(err, "metrics listener stopped", "addr", addr)
		}
	}()
	setupLog.Info("metrics endpoint enabled", "addr", addr)
}

// splitAndTrim splits a comma-separated string and trims whitespace from each element
func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
