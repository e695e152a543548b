package directory

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"

	"orgchat/crypto"
	"orgchat/models"
)

const (
	// DefaultService is the mDNS service name without domain suffix.
	DefaultService = "_orgchat._tcp"
	// DefaultDomain is the mDNS domain.
	DefaultDomain = "local."
	// DefaultVersion is the TXT record protocol version.
	DefaultVersion = 1
	// DefaultScanTimeout bounds each directory browse.
	DefaultScanTimeout = 3 * time.Second
	// DefaultAnnouncePort is the nominal port carried by the service
	// record; the directory exchanges no traffic on it.
	DefaultAnnouncePort = 42424
)

type registerFunc func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error)
type browseFunc func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

// MDNSConfig controls the LAN directory's announce and browse behavior.
type MDNSConfig struct {
	Service      string
	Domain       string
	Version      int
	ScanTimeout  time.Duration
	AnnouncePort int

	registerFn registerFunc
	browseFn   browseFunc
}

func (c MDNSConfig) withDefaults() MDNSConfig {
	out := c
	if out.Service == "" {
		out.Service = DefaultService
	}
	if out.Domain == "" {
		out.Domain = DefaultDomain
	}
	if out.Version == 0 {
		out.Version = DefaultVersion
	}
	if out.ScanTimeout <= 0 {
		out.ScanTimeout = DefaultScanTimeout
	}
	if out.AnnouncePort <= 0 {
		out.AnnouncePort = DefaultAnnouncePort
	}
	if out.registerFn == nil {
		out.registerFn = zeroconf.Register
	}
	return out
}

// LANDirectory publishes the local user over mDNS and resolves peers from
// their announcements. Suited to serverless LAN deployments where no
// shared store exists.
type LANDirectory struct {
	cfg MDNSConfig

	mu     sync.Mutex
	server *zeroconf.Server
}

// NewLANDirectory creates an mDNS directory with defaults applied.
func NewLANDirectory(cfg MDNSConfig) *LANDirectory {
	return &LANDirectory{cfg: cfg.withDefaults()}
}

// Publish announces the local user's profile and public key as TXT
// records, replacing any previous announcement.
func (d *LANDirectory) Publish(ctx context.Context, profile models.Profile, publicKey [crypto.KeySize]byte) error {
	if strings.TrimSpace(profile.UserID) == "" {
		return errors.New("user_id is required")
	}

	txt := encodeTXT(d.cfg.Version, profile, publicKey)
	server, err := d.cfg.registerFn(profile.UserID, d.cfg.Service, d.cfg.Domain, d.cfg.AnnouncePort, txt, nil)
	if err != nil {
		return fmt.Errorf("register mDNS directory record: %w", err)
	}

	d.mu.Lock()
	if d.server != nil {
		d.server.Shutdown()
	}
	d.server = server
	d.mu.Unlock()

	return nil
}

// Close withdraws the local announcement.
func (d *LANDirectory) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.server != nil {
		d.server.Shutdown()
		d.server = nil
	}
}

func (d *LANDirectory) PublicKey(ctx context.Context, userID string) ([crypto.KeySize]byte, error) {
	entries, err := d.scan(ctx)
	if err != nil {
		return [crypto.KeySize]byte{}, err
	}

	entry, ok := entries[userID]
	if !ok {
		return [crypto.KeySize]byte{}, models.ErrNotFound
	}
	return entry.key, nil
}

func (d *LANDirectory) PublicKeys(ctx context.Context, userIDs []string) (map[string][crypto.KeySize]byte, error) {
	entries, err := d.scan(ctx)
	if err != nil {
		return nil, err
	}

	keys := make(map[string][crypto.KeySize]byte, len(userIDs))
	for _, userID := range userIDs {
		if entry, ok := entries[userID]; ok {
			keys[userID] = entry.key
		}
	}
	return keys, nil
}

func (d *LANDirectory) Profile(ctx context.Context, userID string) (models.Profile, error) {
	entries, err := d.scan(ctx)
	if err != nil {
		return models.Profile{}, err
	}

	entry, ok := entries[userID]
	if !ok {
		return models.Profile{}, models.ErrNotFound
	}
	return entry.profile, nil
}

func (d *LANDirectory) Profiles(ctx context.Context, userIDs []string) (map[string]models.Profile, error) {
	entries, err := d.scan(ctx)
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]models.Profile, len(userIDs))
	for _, userID := range userIDs {
		if entry, ok := entries[userID]; ok {
			profiles[userID] = entry.profile
		}
	}
	return profiles, nil
}

type lanEntry struct {
	profile models.Profile
	key     [crypto.KeySize]byte
}

// scan runs one bounded browse and collects every parseable announcement.
func (d *LANDirectory) scan(ctx context.Context) (map[string]lanEntry, error) {
	browse := d.cfg.browseFn
	if browse == nil {
		resolver, err := zeroconf.NewResolver(nil)
		if err != nil {
			return nil, fmt.Errorf("create mDNS resolver: %w", err)
		}
		browse = resolver.Browse
	}

	scanCtx, cancel := context.WithTimeout(ctx, d.cfg.ScanTimeout)
	defer cancel()

	raw := make(chan *zeroconf.ServiceEntry, 16)
	if err := browse(scanCtx, d.cfg.Service, d.cfg.Domain, raw); err != nil {
		return nil, fmt.Errorf("browse mDNS directory: %w", err)
	}

	found := make(map[string]lanEntry)
	for entry := range raw {
		if entry == nil {
			continue
		}
		profile, key, err := parseTXT(entry.Text)
		if err != nil {
			// Foreign or malformed record on the same service name.
			continue
		}
		found[profile.UserID] = lanEntry{profile: profile, key: key}
	}

	return found, nil
}

func encodeTXT(version int, profile models.Profile, publicKey [crypto.KeySize]byte) []string {
	return []string{
		"v=" + strconv.Itoa(version),
		"user=" + profile.UserID,
		"name=" + base64.StdEncoding.EncodeToString([]byte(profile.DisplayName)),
		"avatar=" + base64.StdEncoding.EncodeToString([]byte(profile.AvatarURL)),
		"pk=" + base64.StdEncoding.EncodeToString(publicKey[:]),
	}
}

func parseTXT(txt []string) (models.Profile, [crypto.KeySize]byte, error) {
	var (
		profile models.Profile
		key     [crypto.KeySize]byte
		haveKey bool
	)

	for _, field := range txt {
		name, value, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		switch name {
		case "user":
			profile.UserID = value
		case "name":
			decoded, err := base64.StdEncoding.DecodeString(value)
			if err != nil {
				return models.Profile{}, key, fmt.Errorf("decode display name: %w", err)
			}
			profile.DisplayName = string(decoded)
		case "avatar":
			decoded, err := base64.StdEncoding.DecodeString(value)
			if err != nil {
				return models.Profile{}, key, fmt.Errorf("decode avatar url: %w", err)
			}
			profile.AvatarURL = string(decoded)
		case "pk":
			decoded, err := base64.StdEncoding.DecodeString(value)
			if err != nil {
				return models.Profile{}, key, fmt.Errorf("decode public key: %w", err)
			}
			if len(decoded) != crypto.KeySize {
				return models.Profile{}, key, fmt.Errorf("invalid public key size %d", len(decoded))
			}
			copy(key[:], decoded)
			haveKey = true
		}
	}

	if profile.UserID == "" {
		return models.Profile{}, key, errors.New("announcement missing user id")
	}
	if !haveKey {
		return models.Profile{}, key, errors.New("announcement missing public key")
	}

	return profile, key, nil
}
