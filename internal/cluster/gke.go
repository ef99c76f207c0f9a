package cluster

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-logr/logr"
)

const gkeAuthPlugin = "gke-gcloud-auth-plugin"

// gkeContextPrefix is how gcloud names kubeconfig contexts:
// gke_<project>_<location>_<cluster>
func gkeContextPrefix(project string) string {
	return "gke_" + project + "_"
}

// ResolveGKEContext picks the kubeconfig context for a GKE project. Exactly
// one context must match; anything else needs an explicit --context.
func ResolveGKEContext(contextNames []string, project string) (string, error) {
	prefix := gkeContextPrefix(project)
	var matches []string
	for _, name := range contextNames {
		if strings.HasPrefix(name, prefix) {
			matches = append(matches, name)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no kubeconfig context found for GKE project %q", project)
	case 1:
		return matches[0], nil
	default:
		sort.Strings(matches)
		return "", fmt.Errorf("multiple kubeconfig contexts for GKE project %q: %s",
			project, strings.Join(matches, ", "))
	}
}

// parseGKEContext extracts project, location and cluster name from a gcloud
// generated context name. ok is false for any other naming scheme.
func parseGKEContext(contextName string) (project, location, name string, ok bool) {
	if !strings.HasPrefix(contextName, "gke_") {
		return "", "", "", false
	}
	parts := strings.SplitN(strings.TrimPrefix(contextName, "gke_"), "_", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}

// ensureGKEAuthPlugin makes the gke-gcloud-auth-plugin binary reachable for
// client-go's exec credential provider. gcloud installs it next to itself,
// which is often missing from the PATH CI jobs run with.
func ensureGKEAuthPlugin(logger logr.Logger) {
	if _, err := exec.LookPath(gkeAuthPlugin); err == nil {
		return
	}

	var candidates []string
	if root := os.Getenv("CLOUDSDK_ROOT_DIR"); root != "" {
		candidates = append(candidates, filepath.Join(root, "bin"))
	}
	if root := os.Getenv("GCLOUD_SDK_PATH"); root != "" {
		candidates = append(candidates, filepath.Join(root, "bin"))
	}
	if gcloud, err := exec.LookPath("gcloud"); err == nil {
		candidates = append(candidates, filepath.Dir(gcloud))
	}

	for _, dir := range candidates {
		if _, err := os.Stat(filepath.Join(dir, gkeAuthPlugin)); err != nil {
			continue
		}
		_ = os.Setenv("PATH", os.Getenv("PATH")+string(os.PathListSeparator)+dir)
		logger.Info("added gke auth plugin directory to PATH", "dir", dir)
		return
	}
	logger.Info("gke-gcloud-auth-plugin not found, cluster authentication may fail")
}
