package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	pkgerrors "ora-bot/backend/pkg/errors"
	"ora-bot/backend/pkg/logger"
)

// loginStateTTL bounds how long a /login state nonce stays redeemable.
const loginStateTTL = 10 * time.Minute

// Dataset is a registered data source a user added through /dataset add.
type Dataset struct {
	ID        string
	Name      string
	SourceURL string
	CreatedAt time.Time
}

// Repository handles all Neo4j persistence for the bot: user settings,
// account links, login states and datasets.
type Repository struct {
	driver neo4j.DriverWithContext
	logger *zap.Logger
}

// NewRepository creates a new store repository.
func NewRepository(driver neo4j.DriverWithContext) *Repository {
	return &Repository{
		driver: driver,
		logger: logger.Get(),
	}
}

// Close closes the Neo4j driver connection.
func (r *Repository) Close() error {
	return r.driver.Close(context.Background())
}

// EnsureUser gets or creates a user node, applying privacyDefault only on
// first sight.
func (r *Repository) EnsureUser(ctx context.Context, userID string, privacyDefault bool) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	now := time.Now().UTC().Format(time.RFC3339)

	query := `
		MERGE (u:User {id: $userID})
		ON CREATE SET
			u.private = $privacyDefault,
			u.speak_search_progress = true,
			u.first_seen = datetime($now),
			u.last_seen = datetime($now)
		ON MATCH SET
			u.last_seen = datetime($now)
		RETURN u.id as id
	`

	_, err := session.Run(ctx, query, map[string]interface{}{
		"userID":         userID,
		"privacyDefault": privacyDefault,
		"now":            now,
	})
	if err != nil {
		return pkgerrors.NewStoreQueryFailed("ensure user", err)
	}
	return nil
}

// GetPrivacy returns whether the user's replies should be ephemeral.
// Unknown users fall back to the default passed at creation time, reported
// here as private.
func (r *Repository) GetPrivacy(ctx context.Context, userID string) (bool, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	query := `
		MATCH (u:User {id: $userID})
		RETURN u.private as private
	`

	result, err := session.Run(ctx, query, map[string]interface{}{
		"userID": userID,
	})
	if err != nil {
		return true, pkgerrors.NewStoreQueryFailed("get privacy", err)
	}

	if result.Next(ctx) {
		if val, ok := result.Record().Get("private"); ok {
			if private, ok := val.(bool); ok {
				return private, nil
			}
		}
	}
	return true, nil
}

// SetPrivacy updates the user's ephemeral-reply preference.
func (r *Repository) SetPrivacy(ctx context.Context, userID string, private bool) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	query := `
		MERGE (u:User {id: $userID})
		SET u.private = $private
	`

	_, err := session.Run(ctx, query, map[string]interface{}{
		"userID":  userID,
		"private": private,
	})
	if err != nil {
		return pkgerrors.NewStoreQueryFailed("set privacy", err)
	}

	r.logger.Info("Privacy preference updated",
		zap.String("user_id", userID),
		zap.Bool("private", private),
	)
	return nil
}

// SetSearchProgress toggles whether search progress is spoken aloud before
// results arrive.
func (r *Repository) SetSearchProgress(ctx context.Context, userID string, speak bool) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	query := `
		MERGE (u:User {id: $userID})
		SET u.speak_search_progress = $speak
	`

	_, err := session.Run(ctx, query, map[string]interface{}{
		"userID": userID,
		"speak":  speak,
	})
	if err != nil {
		return pkgerrors.NewStoreQueryFailed("set search progress", err)
	}
	return nil
}

// GetSearchProgress reports whether search progress should be spoken for the
// user. Defaults to true for unknown users.
func (r *Repository) GetSearchProgress(ctx context.Context, userID string) (bool, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	query := `
		MATCH (u:User {id: $userID})
		RETURN u.speak_search_progress as speak
	`

	result, err := session.Run(ctx, query, map[string]interface{}{
		"userID": userID,
	})
	if err != nil {
		return true, pkgerrors.NewStoreQueryFailed("get search progress", err)
	}

	if result.Next(ctx) {
		if val, ok := result.Record().Get("speak"); ok {
			if speak, ok := val.(bool); ok {
				return speak, nil
			}
		}
	}
	return true, nil
}

// UpsertGoogleSub links a Google account subject to the user.
func (r *Repository) UpsertGoogleSub(ctx context.Context, userID, googleSub string) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	query := `
		MERGE (u:User {id: $userID})
		MERGE (g:GoogleAccount {sub: $googleSub})
		MERGE (u)-[l:LINKED_TO]->(g)
		SET l.linked_at = datetime($now)
	`

	_, err := session.Run(ctx, query, map[string]interface{}{
		"userID":    userID,
		"googleSub": googleSub,
		"now":       time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return pkgerrors.NewStoreQueryFailed("upsert google sub", err)
	}

	r.logger.Info("Google account linked", zap.String("user_id", userID))
	return nil
}

// GetGoogleSub returns the linked Google subject for the user, empty when
// no account is linked.
func (r *Repository) GetGoogleSub(ctx context.Context, userID string) (string, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	query := `
		MATCH (u:User {id: $userID})-[:LINKED_TO]->(g:GoogleAccount)
		RETURN g.sub as sub
		LIMIT 1
	`

	result, err := session.Run(ctx, query, map[string]interface{}{
		"userID": userID,
	})
	if err != nil {
		return "", pkgerrors.NewStoreQueryFailed("get google sub", err)
	}

	if result.Next(ctx) {
		if val, ok := result.Record().Get("sub"); ok {
			if sub, ok := val.(string); ok {
				return sub, nil
			}
		}
	}
	return "", nil
}

// StartLoginState issues a single-use login state nonce bound to the user.
func (r *Repository) StartLoginState(ctx context.Context, userID string) (string, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	state := uuid.New().String()

	query := `
		MERGE (u:User {id: $userID})
		CREATE (s:LoginState {
			state: $state,
			created_at: datetime($now)
		})
		CREATE (u)-[:STARTED]->(s)
		RETURN s.state as state
	`

	_, err := session.Run(ctx, query, map[string]interface{}{
		"userID": userID,
		"state":  state,
		"now":    time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return "", pkgerrors.NewStoreQueryFailed("start login state", err)
	}

	r.logger.Debug("Login state issued", zap.String("user_id", userID))
	return state, nil
}

// ConsumeLoginState redeems a state nonce and returns the user it belongs
// to. The nonce is deleted whether or not it is still fresh; expired or
// unknown states return ErrLoginStateInvalid.
func (r *Repository) ConsumeLoginState(ctx context.Context, state string) (string, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	cutoff := time.Now().UTC().Add(-loginStateTTL).Format(time.RFC3339)

	query := `
		MATCH (u:User)-[:STARTED]->(s:LoginState {state: $state})
		WITH u, s, s.created_at >= datetime($cutoff) as fresh
		DETACH DELETE s
		RETURN u.id as user_id, fresh
	`

	result, err := session.Run(ctx, query, map[string]interface{}{
		"state":  state,
		"cutoff": cutoff,
	})
	if err != nil {
		return "", pkgerrors.NewStoreQueryFailed("consume login state", err)
	}

	if !result.Next(ctx) {
		if err := result.Err(); err != nil {
			return "", pkgerrors.NewStoreQueryFailed("consume login state", err)
		}
		return "", pkgerrors.ErrLoginStateInvalid
	}

	record := result.Record()
	if val, ok := record.Get("fresh"); ok {
		if fresh, ok := val.(bool); ok && !fresh {
			return "", pkgerrors.ErrLoginStateInvalid
		}
	}

	userID := ""
	if val, ok := record.Get("user_id"); ok {
		if id, ok := val.(string); ok {
			userID = id
		}
	}
	if userID == "" {
		return "", pkgerrors.ErrLoginStateInvalid
	}
	return userID, nil
}

// AddDataset registers a data source for the user and returns it.
func (r *Repository) AddDataset(ctx context.Context, userID, name, sourceURL string) (*Dataset, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	ds := &Dataset{
		ID:        uuid.New().String(),
		Name:      name,
		SourceURL: sourceURL,
		CreatedAt: time.Now().UTC(),
	}

	query := `
		MERGE (u:User {id: $userID})
		CREATE (d:Dataset {
			id: $id,
			name: $name,
			source_url: $sourceURL,
			created_at: datetime($now)
		})
		CREATE (u)-[:OWNS]->(d)
		RETURN d.id as id
	`

	_, err := session.Run(ctx, query, map[string]interface{}{
		"userID":    userID,
		"id":        ds.ID,
		"name":      ds.Name,
		"sourceURL": ds.SourceURL,
		"now":       ds.CreatedAt.Format(time.RFC3339),
	})
	if err != nil {
		return nil, pkgerrors.NewStoreQueryFailed("add dataset", err)
	}

	r.logger.Info("Dataset registered",
		zap.String("user_id", userID),
		zap.String("dataset_id", ds.ID),
		zap.String("name", ds.Name),
	)
	return ds, nil
}

// ListDatasets returns the user's datasets, newest first.
func (r *Repository) ListDatasets(ctx context.Context, userID string) ([]Dataset, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	query := `
		MATCH (u:User {id: $userID})-[:OWNS]->(d:Dataset)
		RETURN d.id as id, d.name as name, d.source_url as source_url, d.created_at as created_at
		ORDER BY d.created_at DESC
	`

	result, err := session.Run(ctx, query, map[string]interface{}{
		"userID": userID,
	})
	if err != nil {
		return nil, pkgerrors.NewStoreQueryFailed("list datasets", err)
	}

	var datasets []Dataset
	for result.Next(ctx) {
		record := result.Record()
		ds := Dataset{
			ID:        getStringFromRecord(record, "id"),
			Name:      getStringFromRecord(record, "name"),
			SourceURL: getStringFromRecord(record, "source_url"),
		}
		if val, ok := record.Get("created_at"); ok {
			if t, ok := val.(time.Time); ok {
				ds.CreatedAt = t
			}
		}
		datasets = append(datasets, ds)
	}
	if err := result.Err(); err != nil {
		return nil, pkgerrors.NewStoreQueryFailed("list datasets", err)
	}
	return datasets, nil
}

func getStringFromRecord(record *neo4j.Record, key string) string {
	val, ok := record.Get(key)
	if !ok {
		return ""
	}
	if str, ok := val.(string); ok {
		return str
	}
	return ""
}

// VerifyConnectivity pings the database.
func (r *Repository) VerifyConnectivity(ctx context.Context) error {
	if err := r.driver.VerifyConnectivity(ctx); err != nil {
		return fmt.Errorf("neo4j connectivity check failed: %w", err)
	}
	return nil
}
