package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/api/option"
)

// Fetcher resolves named secrets from Google Secret Manager, caching values for
// the lifetime of the process. Secrets are referenced by short name and expanded
// against the configured project.
type Fetcher struct {
	client    *secretmanager.Client
	projectID string

	mu    sync.RWMutex
	cache map[string]string
}

// NewFetcher dials Secret Manager for the given project.
func NewFetcher(ctx context.Context, projectID string, opts ...option.ClientOption) (*Fetcher, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, errors.New("secrets: project id is required")
	}
	client, err := secretmanager.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("secrets: create client: %w", err)
	}
	return &Fetcher{
		client:    client,
		projectID: strings.TrimSpace(projectID),
		cache:     make(map[string]string),
	}, nil
}

// Resolve returns the latest version of the named secret.
func (f *Fetcher) Resolve(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("secrets: name is required")
	}

	f.mu.RLock()
	cached, ok := f.cache[name]
	f.mu.RUnlock()
	if ok {
		return cached, nil
	}

	resource := name
	if !strings.HasPrefix(resource, "projects/") {
		resource = fmt.Sprintf("projects/%s/secrets/%s/versions/latest", f.projectID, name)
	}

	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: resource})
	if err != nil {
		return "", fmt.Errorf("secrets: access %s: %w", name, err)
	}

	value := string(resp.GetPayload().GetData())
	f.mu.Lock()
	f.cache[name] = value
	f.mu.Unlock()
	return value, nil
}

// Close releases the underlying client.
func (f *Fetcher) Close() error {
	if f == nil || f.client == nil {
		return nil
	}
	return f.client.Close()
}
