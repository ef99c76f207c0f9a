// Package cluster bootstraps read-only cluster access from kubeconfig or
// in-cluster credentials and resolves the cluster identity attached to
// published events.
package cluster

import (
	"context"
	"fmt"
	"os"

	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

const serviceAccountNamespaceFile = "/var/run/secrets/kubernetes.io/serviceaccount/namespace"

// Options selects the target cluster. Context and GKEProject are mutually
// exclusive; with neither set the kubeconfig current context is used,
// falling back to in-cluster credentials.
type Options struct {
	Context    string
	GKEProject string
	Insecure   bool
}

// Connect builds the read-only client used for discovery and returns the
// connection identifier (context name or "in-cluster") for the report.
func Connect(ctx context.Context, opts Options) (client.Reader, string, error) {
	logger := log.FromContext(ctx)

	if opts.Context != "" && opts.GKEProject != "" {
		return nil, "", fmt.Errorf("context and GKE project are mutually exclusive")
	}

	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	contextName := opts.Context

	if opts.GKEProject != "" {
		raw, err := loadingRules.Load()
		if err != nil {
			return nil, "", fmt.Errorf("loading kubeconfig: %w", err)
		}
		names := make([]string, 0, len(raw.Contexts))
		for name := range raw.Contexts {
			names = append(names, name)
		}
		contextName, err = ResolveGKEContext(names, opts.GKEProject)
		if err != nil {
			return nil, "", err
		}
		ensureGKEAuthPlugin(logger)
		logger.Info("resolved GKE context", "project", opts.GKEProject, "context", contextName)
	}

	overrides := &clientcmd.ConfigOverrides{CurrentContext: contextName}
	clientConfig := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, overrides)

	identifier := contextName
	restCfg, err := clientConfig.ClientConfig()
	if err != nil {
		if contextName != "" {
			return nil, "", fmt.Errorf("building client config for context %q: %w", contextName, err)
		}
		restCfg, err = rest.InClusterConfig()
		if err != nil {
			return nil, "", fmt.Errorf("no usable kubeconfig and not running in-cluster: %w", err)
		}
		identifier = "in-cluster"
	}
	if identifier == "" {
		if raw, rawErr := clientConfig.RawConfig(); rawErr == nil {
			identifier = raw.CurrentContext
		}
	}

	if opts.Insecure {
		restCfg.TLSClientConfig.Insecure = true
		restCfg.TLSClientConfig.CAFile = ""
		restCfg.TLSClientConfig.CAData = nil
	}

	c, err := client.New(restCfg, client.Options{Scheme: clientgoscheme.Scheme})
	if err != nil {
		return nil, "", fmt.Errorf("creating cluster client: %w", err)
	}
	return c, identifier, nil
}

// CurrentNamespace resolves the namespace to verify when none is given:
// kubeconfig context namespace, then the mounted service account namespace,
// then "default".
func CurrentNamespace() string {
	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	clientConfig := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, &clientcmd.ConfigOverrides{})
	if ns, _, err := clientConfig.Namespace(); err == nil && ns != "" {
		return ns
	}
	if data, err := os.ReadFile(serviceAccountNamespaceFile); err == nil && len(data) > 0 {
		return string(data)
	}
	return "default"
}
