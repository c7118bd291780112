package aws

import (
	"context"

	"github.com/catherinevee/depmgr/internal/models"
)

// Resolver maps discovered nodes back to the clients of their account and
// region. Sessions are opened lazily, once per account.
type Resolver struct {
	open     SessionFactory
	creds    models.AWSCredentials
	sessions map[string]*Session
	clients  map[string]*Clients
}

// NewResolver creates a resolver over the base credentials
func NewResolver(open SessionFactory, creds models.AWSCredentials) *Resolver {
	return &Resolver{
		open:     open,
		creds:    creds,
		sessions: make(map[string]*Session),
		clients:  make(map[string]*Clients),
	}
}

// For returns the clients for node, or nil when its account session could
// not be opened. A session error is returned only on the first failure,
// together with the account label it belongs to.
func (r *Resolver) For(ctx context.Context, node models.ServiceNode) (*Clients, string, error) {
	accountID := node.MetaString(models.MetaAccountID)
	var account *models.AWSAccount
	for i := range r.creds.Accounts {
		if r.creds.Accounts[i].AccountID == accountID {
			account = &r.creds.Accounts[i]
			break
		}
	}
	key := "default"
	if account != nil {
		key = account.AccountID
	}
	label := key
	if accountID != "" {
		label = accountID
	}

	sess, ok := r.sessions[key]
	if !ok {
		var err error
		sess, err = r.open(ctx, r.creds, account)
		if err != nil {
			r.sessions[key] = nil
			return nil, label, err
		}
		r.sessions[key] = sess
	}
	if sess == nil {
		return nil, label, nil
	}

	region := node.Region
	if region == "" {
		region = r.creds.AllRegions()[0]
	}
	ck := key + "/" + region
	c, ok := r.clients[ck]
	if !ok {
		c = sess.ForRegion(region)
		r.clients[ck] = c
	}
	return c, label, nil
}
