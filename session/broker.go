// Package session brokers short-lived cross-account credentials.
// One assume-role call per account per scan, cached; client configs are
// cached per (account, region) so worker tasks never repeat the STS
// exchange.
package session

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/rs/zerolog"
)

// DefaultCallTimeout bounds a single SDK call when the config does not
// say otherwise. One hung connection must never pin a worker.
const DefaultCallTimeout = 30 * time.Second

// Broker exchanges the control-plane identity for per-account
// credentials by assuming a named role in each target account.
type Broker struct {
	controlRegion string
	roleName      string
	maxRetries    int
	callTimeout   time.Duration
	log           zerolog.Logger

	// assume is swapped out by tests.
	assume func(ctx context.Context, accountID string) (aws.Config, error)

	mu       sync.Mutex
	accounts map[string]*accountEntry

	regionalMu sync.RWMutex
	regional   map[string]aws.Config // "<account>/<region>"
}

// accountEntry resolves once; a cache miss for one account never
// serializes callers waiting on other accounts.
type accountEntry struct {
	once sync.Once
	cfg  aws.Config
	err  error
}

// NewBroker builds a broker for the given control-plane region and
// cross-account role name. Every SDK call made through configs the
// broker hands out is bounded by callTimeout.
func NewBroker(controlRegion, roleName string, maxRetries int, callTimeout time.Duration, log zerolog.Logger) *Broker {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	b := &Broker{
		controlRegion: controlRegion,
		roleName:      roleName,
		maxRetries:    maxRetries,
		callTimeout:   callTimeout,
		log:           log,
		accounts:      make(map[string]*accountEntry),
		regional:      make(map[string]aws.Config),
	}
	b.assume = b.assumeRole
	return b
}

// Assume returns credentials for the target account, assuming
// arn:aws:iam::<account>:role/<roleName> on first use. A failed
// attempt is not cached; the next call retries the exchange.
func (b *Broker) Assume(ctx context.Context, accountID string) (aws.Config, error) {
	b.mu.Lock()
	entry, ok := b.accounts[accountID]
	if !ok {
		entry = &accountEntry{}
		b.accounts[accountID] = entry
	}
	b.mu.Unlock()

	entry.once.Do(func() {
		entry.cfg, entry.err = b.assume(ctx, accountID)
	})
	if entry.err != nil {
		b.mu.Lock()
		if b.accounts[accountID] == entry {
			delete(b.accounts, accountID)
		}
		b.mu.Unlock()
		return aws.Config{}, fmt.Errorf("assume role for account %s: %w", accountID, entry.err)
	}
	return entry.cfg, nil
}

// ClientConfig returns account credentials pinned to a region, cached
// per (account, region). Adapters build their service clients from it,
// which keys the effective client cache by (account, region, service).
func (b *Broker) ClientConfig(ctx context.Context, accountID, region string) (aws.Config, error) {
	key := accountID + "/" + region

	b.regionalMu.RLock()
	cfg, ok := b.regional[key]
	b.regionalMu.RUnlock()
	if ok {
		return cfg, nil
	}

	cfg, err := b.Assume(ctx, accountID)
	if err != nil {
		return aws.Config{}, err
	}
	cfg = cfg.Copy()
	cfg.Region = region

	b.regionalMu.Lock()
	b.regional[key] = cfg
	b.regionalMu.Unlock()
	return cfg, nil
}

func (b *Broker) assumeRole(ctx context.Context, accountID string) (aws.Config, error) {
	base, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(b.controlRegion),
		awsconfig.WithRetryMode(aws.RetryModeAdaptive),
		awsconfig.WithRetryMaxAttempts(b.maxRetries),
		awsconfig.WithHTTPClient(BoundedHTTPClient(b.callTimeout)),
	)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load base config: %w", err)
	}

	roleARN := fmt.Sprintf("arn:aws:iam::%s:role/%s", accountID, b.roleName)
	provider := stscreds.NewAssumeRoleProvider(sts.NewFromConfig(base), roleARN,
		func(o *stscreds.AssumeRoleOptions) {
			o.RoleSessionName = fmt.Sprintf("magpie-%d", time.Now().Unix())
		})

	cfg := base.Copy()
	cfg.Credentials = aws.NewCredentialsCache(provider)

	// Fail fast here rather than inside every adapter task.
	if _, err := cfg.Credentials.Retrieve(ctx); err != nil {
		return aws.Config{}, fmt.Errorf("retrieve credentials for %s: %w", roleARN, err)
	}

	b.log.Debug().Str("account_id", accountID).Str("role_arn", roleARN).Msg("assumed cross-account role")
	return cfg, nil
}

// BoundedHTTPClient caps the overall duration of every request made
// through it, body read included. Configs derived from Assume carry it
// into every service client.
func BoundedHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &http.Client{Timeout: timeout}
}
