package cluster

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"sigs.k8s.io/controller-runtime/pkg/log"
)

const (
	gcpMetadataBase   = "http://metadata.google.internal/computeMetadata/v1"
	gcpMetadataFlavor = "Google"

	metadataTimeout = 3 * time.Second
)

// ResolveClusterID determines the identifier stamped onto published events.
// Resolution order: the explicit flag value, the GKE context name, the GCP
// metadata server when running inside the cluster. An empty result means the
// cluster could not be identified; publishing still proceeds.
func ResolveClusterID(ctx context.Context, explicit, kubeContext string) string {
	if explicit != "" {
		return explicit
	}
	if project, location, name, ok := parseGKEContext(kubeContext); ok {
		return fmt.Sprintf("gcp/%s/%s/%s", project, location, name)
	}

	probe := newMetadataProbe(&http.Client{Timeout: metadataTimeout}, gcpMetadataBase)
	if !probe.detect(ctx) {
		return ""
	}
	id, err := probe.clusterID(ctx)
	if err != nil {
		log.FromContext(ctx).V(1).Info("cluster identity lookup failed", "error", err.Error())
		return ""
	}
	return id
}

// metadataProbe reads cluster identity from the GCP metadata server.
type metadataProbe struct {
	client  *http.Client
	baseURL string
}

func newMetadataProbe(client *http.Client, baseURL string) *metadataProbe {
	return &metadataProbe{client: client, baseURL: baseURL}
}

// detect checks whether the metadata server is reachable and answers with
// the Google flavor header.
func (p *metadataProbe) detect(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Metadata-Flavor", gcpMetadataFlavor)

	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK &&
		resp.Header.Get("Metadata-Flavor") == gcpMetadataFlavor
}

// clusterID builds gcp/<project>/<region>/<cluster> from instance metadata.
func (p *metadataProbe) clusterID(ctx context.Context) (string, error) {
	clusterName, err := p.get(ctx, "/instance/attributes/cluster-name")
	if err != nil {
		return "", fmt.Errorf("failed to get cluster-name: %w", err)
	}
	projectID, err := p.get(ctx, "/project/project-id")
	if err != nil {
		return "", fmt.Errorf("failed to get project-id: %w", err)
	}
	zone, err := p.get(ctx, "/instance/zone")
	if err != nil {
		return "", fmt.Errorf("failed to get zone: %w", err)
	}

	// Zone metadata format: projects/<project-number>/zones/<zone>
	region := extractRegionFromZone(path.Base(zone))
	return fmt.Sprintf("gcp/%s/%s/%s", projectID, region, clusterName), nil
}

func (p *metadataProbe) get(ctx context.Context, metadataPath string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+metadataPath, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Metadata-Flavor", gcpMetadataFlavor)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("metadata request failed with status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}

// extractRegionFromZone extracts region from zone (e.g., us-central1-a -> us-central1)
func extractRegionFromZone(zone string) string {
	lastDash := strings.LastIndex(zone, "-")
	if lastDash == -1 {
		return zone
	}
	return zone[:lastDash]
}
