package router

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/bluele/gcache"
	"github.com/openrdap/rdap"
	"go.uber.org/zap"
)

// OrgLookup resolves the organization that holds an IP address.
type OrgLookup interface {
	LookupOrg(ctx context.Context, ip string) (string, error)
}

// RDAPLookup queries the public RDAP bootstrap registry and remembers answers.
type RDAPLookup struct {
	client *rdap.Client
	cache  gcache.Cache
}

func NewRDAPLookup() *RDAPLookup {
	return &RDAPLookup{
		client: &rdap.Client{},
		cache:  gcache.New(1024).ARC().Expiration(time.Hour).Build(),
	}
}

func (l *RDAPLookup) LookupOrg(ctx context.Context, ip string) (string, error) {
	if v, err := l.cache.Get(ip); err == nil {
		return v.(string), nil
	}

	addr := net.ParseIP(ip)
	if addr == nil {
		return "", fmt.Errorf("invalid ip %q", ip)
	}

	resp, err := l.client.Do(rdap.NewIPRequest(addr).WithContext(ctx))
	if err != nil {
		return "", err
	}

	network, ok := resp.Object.(*rdap.IPNetwork)
	if !ok {
		return "", fmt.Errorf("unexpected rdap object %T", resp.Object)
	}

	org := network.Name
	if len(network.Entities) > 0 && network.Entities[0].VCard != nil {
		org = network.Entities[0].VCard.Name()
	}

	_ = l.cache.Set(ip, org)

	return org, nil
}

// annotate logs the peer's organization once it is known. It never delays the
// connection it describes.
func (s *Server) annotate(ip string, log *zap.Logger) {
	if s.cfg.OrgLookup == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		org, err := s.cfg.OrgLookup.LookupOrg(ctx, ip)
		if err != nil {
			log.Debug("org lookup failed", zap.Error(err))
			return
		}

		log.Info("peer organization", zap.String("org", org))
	}()
}
