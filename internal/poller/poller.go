// Package poller drives collection runs: it walks every host of a network,
// decodes the bridge tables it finds and records one row per learned MAC.
package poller

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mactrack/internal/bridge"
	"mactrack/internal/db"
	"mactrack/internal/metrics"
	"mactrack/internal/models"
	"mactrack/internal/oid"
	"mactrack/internal/snmp"
	"mactrack/internal/targets"
)

// ErrMissingInput is returned when a manual run lacks its network or community.
var ErrMissingInput = errors.New("network and community are required")

// Session is the per-host SNMP conversation the collector needs.
type Session interface {
	Walk(ctx context.Context, oid string) ([]snmp.Variable, error)
	Get(ctx context.Context, oid string) (snmp.Variable, error)
	Close() error
}

// Opener creates a session to one host.
type Opener func(ctx context.Context, host string, p snmp.Params) (Session, error)

// OpenSNMP is the production Opener backed by gosnmp.
func OpenSNMP(ctx context.Context, host string, p snmp.Params) (Session, error) {
	c, err := snmp.Open(ctx, host, p)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Options configure a Collector. Network, Community and Params are the
// configured targets used by CollectConfigured.
type Options struct {
	Network     string
	Community   string
	Params      snmp.Params
	Concurrency int
	Legacy      bool
	Open        Opener
	Metrics     *metrics.Metrics
}

// Result summarizes a collection run.
type Result struct {
	Network   string `json:"network"`
	Processed int    `json:"processed"`
	Succeeded int    `json:"succeeded"`
	MACs      int    `json:"macs"`
}

type Collector struct {
	store   *db.Store
	logger  *zap.Logger
	decoder *bridge.Decoder
	opts    Options
}

func New(store *db.Store, logger *zap.Logger, opts Options) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Open == nil {
		opts.Open = OpenSNMP
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	logger = logger.Named("poller")
	return &Collector{
		store:   store,
		logger:  logger,
		decoder: bridge.NewDecoder(logger),
		opts:    opts,
	}
}

// CollectConfigured runs a collection against the configured network.
func (c *Collector) CollectConfigured(ctx context.Context) (Result, error) {
	p := c.opts.Params
	p.Community = c.opts.Community
	return c.Collect(ctx, c.opts.Network, p)
}

// CollectManual runs a collection against an operator-supplied network with
// the default timeout and retries.
func (c *Collector) CollectManual(ctx context.Context, network, community string) (Result, error) {
	if strings.TrimSpace(network) == "" || strings.TrimSpace(community) == "" {
		return Result{}, ErrMissingInput
	}

	p := snmp.DefaultParams(community)
	if c.opts.Params.Port != 0 {
		p.Port = c.opts.Params.Port
	}
	if c.opts.Params.MaxRepetitions != 0 {
		p.MaxRepetitions = c.opts.Params.MaxRepetitions
	}
	return c.Collect(ctx, network, p)
}

// Collect polls every usable host of network. Host failures are recorded and
// skipped; an error is returned only for a bad network or when the audit
// trail itself cannot be written.
func (c *Collector) Collect(ctx context.Context, network string, p snmp.Params) (Result, error) {
	prefix, err := targets.Parse(network)
	if err != nil {
		return Result{}, err
	}

	start := time.Now()
	res, err := c.run(ctx, prefix, p)
	c.opts.Metrics.RunFinished(err == nil, time.Since(start).Seconds())

	if err != nil {
		c.logger.Error("collection run failed",
			zap.String("network", res.Network),
			zap.Int("processed", res.Processed),
			zap.Error(err),
		)
		if logErr := c.store.AddLog(context.WithoutCancel(ctx), fmt.Sprintf("Collection failed: %s - %v", res.Network, err)); logErr != nil {
			c.logger.Error("recording run failure", zap.Error(logErr))
		}
		return res, err
	}

	c.logger.Info("collection run complete",
		zap.String("network", res.Network),
		zap.Int("processed", res.Processed),
		zap.Int("succeeded", res.Succeeded),
		zap.Int("macs", res.MACs),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

func (c *Collector) run(ctx context.Context, prefix netip.Prefix, p snmp.Params) (Result, error) {
	res := Result{Network: prefix.String()}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Concurrency)

	for addr := range targets.Hosts(prefix) {
		if gctx.Err() != nil {
			break
		}
		host := addr.String()

		g.Go(func() error {
			n, hostErr := c.pollHost(gctx, host, p)

			mu.Lock()
			res.Processed++
			if hostErr == nil {
				res.Succeeded++
				res.MACs += n
			}
			mu.Unlock()
			c.opts.Metrics.HostPolled(hostErr == nil, n)

			if hostErr == nil {
				return nil
			}

			c.logger.Warn("host poll failed", zap.String("host", host), zap.Error(hostErr))
			if err := c.store.AddLog(gctx, fmt.Sprintf("SNMP scan failed: %s - %v", host, hostErr)); err != nil {
				return fmt.Errorf("record failure of %s: %w", host, err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return res, err
	}

	summary := fmt.Sprintf("Collection complete for %s: processed=%d, succeeded=%d, macs=%d",
		res.Network, res.Processed, res.Succeeded, res.MACs)
	if err := c.store.AddLog(ctx, summary); err != nil {
		return res, fmt.Errorf("record run summary: %w", err)
	}
	return res, nil
}

// pollHost collects one host's MAC table and returns the number of rows written.
func (c *Collector) pollHost(ctx context.Context, host string, p snmp.Params) (int, error) {
	log := c.logger.With(zap.String("host", host))

	sess, err := c.opts.Open(ctx, host, p)
	if err != nil {
		return 0, fmt.Errorf("open session: %w", err)
	}
	defer sess.Close()

	names, available, err := c.vlanNames(ctx, sess, host)
	if err != nil {
		return 0, err
	}

	vars, err := sess.Walk(ctx, oid.MacTable)
	if err != nil {
		return 0, fmt.Errorf("walk mac table: %w", err)
	}
	entries := c.decoder.MACTable(vars)
	c.opts.Metrics.MalformedEntries(len(vars) - len(entries))

	resolver := bridge.NewResolver(sess, names, bridge.ResolverOptions{
		NamesAvailable: available,
		Legacy:         c.opts.Legacy,
		Logger:         log,
	})

	rows := make([]models.MacEntry, len(entries))
	for i, e := range entries {
		rows[i] = models.MacEntry{
			Device: host,
			VLAN:   resolver.Resolve(ctx, e.Port),
			MAC:    e.MAC,
			Port:   e.Port,
		}
	}

	err = c.store.Tx(ctx, func(tx *db.Tx) error {
		for i := range rows {
			if err := tx.AddMacEntry(&rows[i]); err != nil {
				return err
			}
		}
		return tx.AddLog(fmt.Sprintf("SNMP scan succeeded: %s, found %d MAC addresses", host, len(rows)))
	})
	if err != nil {
		return 0, fmt.Errorf("store mac entries: %w", err)
	}

	log.Debug("host polled", zap.Int("macs", len(rows)), zap.Int("vlan_names", len(names)))
	return len(rows), nil
}

// vlanNames walks the VLAN name table. A failed walk is recorded and
// collection continues without names.
func (c *Collector) vlanNames(ctx context.Context, sess Session, host string) (map[string]string, bool, error) {
	vars, err := sess.Walk(ctx, oid.VlanName)
	if err != nil {
		c.logger.Debug("vlan name walk failed", zap.String("host", host), zap.Error(err))
		if logErr := c.store.AddLog(ctx, fmt.Sprintf("VLAN name lookup failed: %s - %v", host, err)); logErr != nil {
			return nil, false, logErr
		}
		return map[string]string{}, false, nil
	}

	names, available := c.decoder.VLANNames(vars)
	msg := fmt.Sprintf("VLAN names retrieved: %s, %d VLANs", host, len(names))
	if !available {
		msg = fmt.Sprintf("VLAN names unavailable: %s", host)
	}
	if err := c.store.AddLog(ctx, msg); err != nil {
		return nil, false, err
	}
	return names, available, nil
}
