// Package dns fetches the node's out of band configuration from TXT
// records: the time indexed proof-of-work difficulty schedule and the
// latest published software version.
package dns

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/miekg/dns"
	"go.uber.org/zap"

	"github.com/overlaynet/storenode/foundation/storenode/pow"
)

// Well known record names. Overridable for testing against a local
// resolver.
const (
	DefaultDifficultyName = "difficulty.messenger.overmesh.network"
	DefaultVersionName    = "storage.version.overmesh.network"
)

// Config represents the dependencies and overrides for the oracle.
type Config struct {
	Log            *zap.SugaredLogger
	DifficultyName string
	VersionName    string
	ResolvConf     string

	// Server, as host:port, bypasses the system resolver configuration.
	Server string
}

// Oracle queries the well known TXT records using the system resolver
// configuration.
type Oracle struct {
	log            *zap.SugaredLogger
	difficultyName string
	versionName    string
	resolvConf     string
	server         string
}

// New constructs an oracle with the specified configuration. Zero value
// overrides fall back to the well known defaults.
func New(cfg Config) *Oracle {
	o := Oracle{
		log:            cfg.Log,
		difficultyName: cfg.DifficultyName,
		versionName:    cfg.VersionName,
		resolvConf:     cfg.ResolvConf,
		server:         cfg.Server,
	}

	if o.difficultyName == "" {
		o.difficultyName = DefaultDifficultyName
	}
	if o.versionName == "" {
		o.versionName = DefaultVersionName
	}
	if o.resolvConf == "" {
		o.resolvConf = "/etc/resolv.conf"
	}

	return &o
}

// queryTXT resolves the specified name and concatenates every chunk of
// every TXT answer record in response order. TXT RDATA is a sequence of
// length prefixed chunks of up to 255 bytes; the payloads here span
// multiple chunks and records.
func (o *Oracle) queryTXT(ctx context.Context, name string) (string, error) {
	servers := []string{o.server}

	if o.server == "" {
		conf, err := dns.ClientConfigFromFile(o.resolvConf)
		if err != nil {
			return "", fmt.Errorf("reading resolver config: %w", err)
		}
		if len(conf.Servers) == 0 {
			return "", fmt.Errorf("no resolvers configured")
		}
		servers = servers[:0]
		for _, s := range conf.Servers {
			servers = append(servers, net.JoinHostPort(s, conf.Port))
		}
	}

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), dns.TypeTXT)

	client := new(dns.Client)

	var lastErr error
	for _, server := range servers {
		in, _, err := client.ExchangeContext(ctx, m, server)
		if err != nil {
			lastErr = err
			continue
		}

		var sb strings.Builder
		for _, rr := range in.Answer {
			txt, ok := rr.(*dns.TXT)
			if !ok {
				continue
			}
			for _, chunk := range txt.Txt {
				// The library returns presentation format (\" \\ and \DDD
				// escapes); undo it to recover the raw chunk bytes.
				for i := 0; i < len(chunk); i++ {
					c := chunk[i]
					if c == '\\' && i+1 < len(chunk) {
						i++
						c = chunk[i]
						if i+2 < len(chunk) && c >= '0' && c <= '9' {
							if n, err := strconv.Atoi(chunk[i : i+3]); err == nil && n <= 0xFF {
								c = byte(n)
								i += 2
							}
						}
					}
					sb.WriteByte(c)
				}
			}
		}

		return sb.String(), nil
	}

	return "", fmt.Errorf("querying %s: %w", name, lastErr)
}

// QueryDifficulty fetches and decodes the difficulty schedule: a JSON
// object whose keys are decimal millisecond timestamps and whose values
// are non-negative difficulties. On any failure the caller retains its
// previous history.
func (o *Oracle) QueryDifficulty(ctx context.Context) ([]pow.Difficulty, error) {
	o.log.Debugw("oracle: querying pow difficulty")

	data, err := o.queryTXT(ctx, o.difficultyName)
	if err != nil {
		return nil, fmt.Errorf("retrieving difficulty record: %w", err)
	}

	var doc map[string]int
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return nil, fmt.Errorf("parsing difficulty record: %w", err)
	}

	history := make([]pow.Difficulty, 0, len(doc))
	for key, difficulty := range doc {
		timestampMs, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing difficulty timestamp %q: %w", key, err)
		}
		history = append(history, pow.Difficulty{TimestampMs: timestampMs, Difficulty: difficulty})
	}

	return history, nil
}

// QueryLatestVersion fetches the dotted version triplet published for
// the fleet.
func (o *Oracle) QueryLatestVersion(ctx context.Context) (string, error) {
	o.log.Debugw("oracle: querying latest version")

	return o.queryTXT(ctx, o.versionName)
}

// CheckLatestVersion compares the running version against the published
// one and warns when an update is due. Failures only log; the record is
// advisory.
func (o *Oracle) CheckLatestVersion(ctx context.Context, current string) {
	latestStr, err := o.QueryLatestVersion(ctx)
	if err != nil || latestStr == "" {
		o.log.Warnw("oracle: failed to retrieve the latest version record", "ERROR", err)
		return
	}

	latest, ok := ParseVersion(latestStr)
	if !ok {
		o.log.Warnw("oracle: could not parse the latest version", "value", latestStr)
		return
	}

	running, ok := ParseVersion(current)
	if !ok {
		o.log.Warnw("oracle: could not parse the running version", "value", current)
		return
	}

	if lessVersion(running, latest) {
		o.log.Warnw("oracle: you are running an outdated storage node, please update", "running", current, "latest", latestStr)
		return
	}

	o.log.Debugw("oracle: running the latest storage node version", "version", current)
}

// ParseVersion decodes a MAJOR.MINOR.PATCH triplet of 16 bit values.
func ParseVersion(s string) ([3]uint16, bool) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return [3]uint16{}, false
	}

	var version [3]uint16
	for i := range parts {
		v, err := strconv.ParseUint(parts[i], 10, 16)
		if err != nil {
			return [3]uint16{}, false
		}
		version[i] = uint16(v)
	}

	return version, true
}

// lessVersion reports whether a sorts strictly before b.
func lessVersion(a, b [3]uint16) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
