package postgres

import (
	"strings"
	"testing"
	"testing/fstest"
)

func TestReadSchemaSteps_Success(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"sql/migrations/0002_more.up.sql":   {Data: []byte("CREATE TABLE b (id INT);")},
		"sql/migrations/0002_more.down.sql": {Data: []byte("DROP TABLE b;")},
		"sql/migrations/0001_init.up.sql":   {Data: []byte("CREATE TABLE a (id INT);")},
		"sql/migrations/0001_init.down.sql": {Data: []byte("DROP TABLE a;")},
	}

	steps, err := readSchemaSteps(fsys)
	if err != nil {
		t.Fatalf("readSchemaSteps failed: %v", err)
	}
	if len(steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(steps))
	}
	if steps[0].Version != 1 || steps[0].Name != "init" {
		t.Fatalf("unexpected first step: %+v", steps[0])
	}
	if steps[1].Version != 2 || steps[1].script(directionDown) != "DROP TABLE b;" {
		t.Fatalf("unexpected second step: %+v", steps[1])
	}
}

func TestReadSchemaSteps_Errors(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		fsys    fstest.MapFS
		contain string
	}{
		"missing down": {
			fsys:    fstest.MapFS{"sql/migrations/0001_init.up.sql": {Data: []byte("SELECT 1;")}},
			contain: "both up and down",
		},
		"bad name": {
			fsys:    fstest.MapFS{"sql/migrations/init.sql": {Data: []byte("SELECT 1;")}},
			contain: "unexpected file",
		},
		"empty body": {
			fsys: fstest.MapFS{
				"sql/migrations/0001_init.up.sql":   {Data: []byte("  \n")},
				"sql/migrations/0001_init.down.sql": {Data: []byte("SELECT 1;")},
			},
			contain: "empty migration",
		},
		"name mismatch": {
			fsys: fstest.MapFS{
				"sql/migrations/0001_init.up.sql":    {Data: []byte("SELECT 1;")},
				"sql/migrations/0001_other.down.sql": {Data: []byte("SELECT 1;")},
			},
			contain: "conflicting names",
		},
	}

	for name, tc := range cases {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := readSchemaSteps(tc.fsys)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.contain) {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestEmbeddedMigrationsAreComplete(t *testing.T) {
	t.Parallel()

	steps, err := readSchemaSteps(migrationsFS)
	if err != nil {
		t.Fatalf("embedded migrations: %v", err)
	}
	if len(steps) != 3 {
		t.Fatalf("expected 3 embedded migrations, got %d", len(steps))
	}
}

func TestPlanSteps(t *testing.T) {
	t.Parallel()

	all := []schemaStep{{Version: 1, Name: "a"}, {Version: 2, Name: "b"}, {Version: 3, Name: "c"}}

	up, err := planSteps(all, map[int64]bool{1: true}, directionUp, 0)
	if err != nil {
		t.Fatalf("plan up: %v", err)
	}
	if len(up) != 2 || up[0].Version != 2 || up[1].Version != 3 {
		t.Fatalf("unexpected up plan: %+v", up)
	}

	down, err := planSteps(all, map[int64]bool{1: true, 2: true}, directionDown, 1)
	if err != nil {
		t.Fatalf("plan down: %v", err)
	}
	if len(down) != 1 || down[0].Version != 2 {
		t.Fatalf("unexpected down plan: %+v", down)
	}

	if _, err := planSteps(all, map[int64]bool{9: true}, directionDown, 1); err == nil {
		t.Fatal("expected error for unknown applied version")
	}
}
