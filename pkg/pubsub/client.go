// Package pubsub opens the Google Cloud Pub/Sub handles behind reconciler
// wake-ups: the API publishes to the sync topic, sync workers subscribe.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/piratar/members-sync/pkg/config"
	"github.com/piratar/members-sync/pkg/logger"
)

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errNotInitialized    = errors.New("pubsub client not initialized")
)

type Client struct {
	client    *pubsub.Client
	projectID string
	cfg       config.PubSubConfig

	mu sync.Mutex
	// opened holds the resources this process depends on; Ping rechecks them.
	opened []resource
}

type resource struct {
	kind string
	name string
}

const (
	kindTopic        = "topics"
	kindSubscription = "subscriptions"
)

// NewClient connects to Pub/Sub. Credentials come from the configured file,
// else application default credentials; PUBSUB_EMULATOR_HOST is honoured by
// the underlying client.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errProjectIDRequired
	}

	var opts []option.ClientOption
	if path := strings.TrimSpace(gcp.ApplicationCredentials); path != "" {
		opts = append(opts, option.WithCredentialsFile(path))
	}
	psClient, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "project", projectID), "pubsub client initialized")
	}
	return &Client{client: psClient, projectID: projectID, cfg: cfg}, nil
}

// SyncPublisher returns the wake-up topic publisher after checking the topic exists.
func (c *Client) SyncPublisher(ctx context.Context) (*pubsub.Publisher, error) {
	if c == nil {
		return nil, errNotInitialized
	}
	full, err := c.open(ctx, kindTopic, c.cfg.SyncTopic)
	if err != nil {
		return nil, err
	}
	return c.client.Publisher(full), nil
}

// SyncSubscription returns the sync worker's subscriber after checking the
// subscription exists.
func (c *Client) SyncSubscription(ctx context.Context) (*pubsub.Subscriber, error) {
	if c == nil {
		return nil, errNotInitialized
	}
	full, err := c.open(ctx, kindSubscription, c.cfg.SyncSubscription)
	if err != nil {
		return nil, err
	}
	return c.client.Subscriber(full), nil
}

func (c *Client) open(ctx context.Context, kind, name string) (string, error) {
	if c == nil || c.client == nil {
		return "", errNotInitialized
	}
	full := resourceName(c.projectID, kind, name)
	if full == "" {
		return "", fmt.Errorf("pubsub %s name is required", strings.TrimSuffix(kind, "s"))
	}
	if err := c.check(ctx, resource{kind: kind, name: full}); err != nil {
		return "", err
	}
	c.mu.Lock()
	c.opened = append(c.opened, resource{kind: kind, name: full})
	c.mu.Unlock()
	return full, nil
}

func (c *Client) check(ctx context.Context, r resource) error {
	var err error
	switch r.kind {
	case kindTopic:
		_, err = c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: r.name})
	case kindSubscription:
		_, err = c.client.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{Subscription: r.name})
	default:
		return fmt.Errorf("unknown pubsub resource kind %q", r.kind)
	}
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%s does not exist", r.name)
	}
	if err != nil {
		return fmt.Errorf("checking %s: %w", r.name, err)
	}
	return nil
}

// Ping rechecks every topic and subscription opened so far.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errNotInitialized
	}
	c.mu.Lock()
	opened := append([]resource(nil), c.opened...)
	c.mu.Unlock()
	for _, r := range opened {
		if err := c.check(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// resourceName expands a short topic or subscription id into its full
// resource path. Names that are already full paths pass through unchanged.
func resourceName(projectID, kind, name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	if strings.HasPrefix(name, "projects/") && strings.Contains(name, "/"+kind+"/") {
		return name
	}
	if projectID == "" {
		return ""
	}
	return "projects/" + projectID + "/" + kind + "/" + name
}
