package graph

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists workflow graph documents in PostgreSQL. Each save
// writes a new version row; reads return the latest version unless a
// specific one is requested.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a Repository backed by the given connection pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

// InitSchema creates the workflow_graphs table if it does not exist.
func (r *Repository) InitSchema(ctx context.Context) error {
	_, err := r.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS workflow_graphs (
			id         TEXT NOT NULL,
			tenant_id  TEXT NOT NULL,
			version    INT  NOT NULL,
			name       TEXT NOT NULL DEFAULT '',
			enabled    BOOLEAN NOT NULL DEFAULT TRUE,
			document   JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (id, version)
		);
		CREATE INDEX IF NOT EXISTS workflow_graphs_tenant_idx
			ON workflow_graphs (tenant_id, id, version DESC)
	`)
	if err != nil {
		return fmt.Errorf("init graph schema: %w", err)
	}
	return nil
}

// Save writes the graph as a new version and bumps g.Version to the value
// actually stored.
func (r *Repository) Save(ctx context.Context, g *Graph) error {
	var latest int
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(MAX(version), 0) FROM workflow_graphs WHERE id = $1
	`, g.ID).Scan(&latest)
	if err != nil {
		return fmt.Errorf("read latest version: %w", err)
	}

	g.Version = latest + 1
	doc, err := g.Marshal()
	if err != nil {
		return err
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO workflow_graphs (id, tenant_id, version, name, enabled, document)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, g.ID, g.TenantID, g.Version, g.Name, g.Enabled, doc)
	if err != nil {
		return fmt.Errorf("save graph: %w", err)
	}
	return nil
}

// Get retrieves the latest version of a graph. Returns nil, nil when not
// found.
func (r *Repository) Get(ctx context.Context, id string) (*Graph, error) {
	var doc []byte
	err := r.db.QueryRow(ctx, `
		SELECT document FROM workflow_graphs
		WHERE id = $1 ORDER BY version DESC LIMIT 1
	`, id).Scan(&doc)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get graph: %w", err)
	}
	return Unmarshal(doc)
}

// GetVersion retrieves a specific stored version. Returns nil, nil when
// not found.
func (r *Repository) GetVersion(ctx context.Context, id string, version int) (*Graph, error) {
	var doc []byte
	err := r.db.QueryRow(ctx, `
		SELECT document FROM workflow_graphs WHERE id = $1 AND version = $2
	`, id, version).Scan(&doc)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get graph version: %w", err)
	}
	return Unmarshal(doc)
}

// ListByTenant returns the latest version of every graph owned by a
// tenant.
func (r *Repository) ListByTenant(ctx context.Context, tenantID string) ([]*Graph, error) {
	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT ON (id) document FROM workflow_graphs
		WHERE tenant_id = $1 ORDER BY id, version DESC
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list graphs: %w", err)
	}
	defer rows.Close()

	var graphs []*Graph
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan graph: %w", err)
		}
		g, err := Unmarshal(doc)
		if err != nil {
			return nil, err
		}
		graphs = append(graphs, g)
	}
	return graphs, rows.Err()
}

// Delete removes every version of a graph.
func (r *Repository) Delete(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM workflow_graphs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete graph: %w", err)
	}
	return nil
}

// Seed inserts a sample booking-flow graph for the demo tenant if absent,
// so a fresh install has something to execute.
func (r *Repository) Seed(ctx context.Context) error {
	g := SampleBookingGraph()

	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM workflow_graphs WHERE id = $1)
	`, g.ID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check seed graph: %w", err)
	}
	if exists {
		return nil
	}

	doc, err := g.Marshal()
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO workflow_graphs (id, tenant_id, version, name, enabled, document)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id, version) DO NOTHING
	`, g.ID, g.TenantID, g.Version, g.Name, g.Enabled, doc)
	if err != nil {
		return fmt.Errorf("seed graph: %w", err)
	}
	return nil
}

// SampleBookingGraph builds the seeded appointment-booking flow: a trigger
// routes the message to the booking agent, checks availability, books via
// tool and confirms, with a fallback reply on tool failure.
func SampleBookingGraph() *Graph {
	g := New("demo-tenant", "Appointment Booking")
	g.ID = "8f9c5a2e-6f1d-4b83-9f0a-3f4d2c1b7a90"
	g.Description = "Route a booking request, check availability and confirm"
	g.CreatedBy = "seed"

	nodes := []*Node{
		{ID: "trigger", Type: NodeTrigger, Name: "Incoming Message", Enabled: true},
		{ID: "route", Type: NodeAgent, Name: "Router", Enabled: true,
			Config: map[string]any{"agent": "router", "output_variable": "intent"}},
		{ID: "check", Type: NodeTool, Name: "Check Availability", Enabled: true,
			Config: map[string]any{
				"tool":            "check_availability",
				"params":          map[string]any{"date": "{{requested_date}}"},
				"output_variable": "availability",
			}},
		{ID: "book", Type: NodeTool, Name: "Book Appointment", Enabled: true,
			Config: map[string]any{
				"tool":            "book_appointment",
				"params":          map[string]any{"date": "{{requested_date}}", "client": "{{actor_id}}"},
				"output_variable": "booking",
			}},
		{ID: "confirm", Type: NodeAgent, Name: "Confirm", Enabled: true,
			Config: map[string]any{"agent": "booking", "message": "Confirm booking {{booking.id}}"}},
		{ID: "apologize", Type: NodeAgent, Name: "Fallback Reply", Enabled: true,
			Config: map[string]any{"agent": "support", "message": "Booking failed, offer alternatives"}},
		{ID: "end", Type: NodeEnd, Name: "Done", Enabled: true},
	}
	for _, n := range nodes {
		if err := g.AddNode(n); err != nil {
			panic(err) // static seed data, a failure here is a programming error
		}
	}

	edges := []*Edge{
		{ID: "e1", Source: "trigger", Target: "route", Kind: EdgeDirect, Enabled: true},
		{ID: "e2", Source: "route", Target: "check", Kind: EdgeConditional, Enabled: true,
			Condition: "{{intent}} contains 'book'"},
		{ID: "e3", Source: "check", Target: "book", Kind: EdgeConditional, Enabled: true,
			Condition: "{{availability.available}} == true"},
		{ID: "e4", Source: "book", Target: "confirm", Kind: EdgeOnSuccess, Enabled: true},
		{ID: "e5", Source: "book", Target: "apologize", Kind: EdgeOnError, Enabled: true},
		{ID: "e6", Source: "confirm", Target: "end", Kind: EdgeDirect, Enabled: true},
		{ID: "e7", Source: "apologize", Target: "end", Kind: EdgeDirect, Enabled: true},
	}
	for _, e := range edges {
		if err := g.AddEdge(e); err != nil {
			panic(err)
		}
	}
	return g
}
