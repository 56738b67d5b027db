package subscribers

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	logx "schedbot/pkg/logx"
)

func openStores(t *testing.T) map[string]Store {
	t.Helper()
	ctx := context.Background()
	stores := map[string]Store{"memory": NewMemory(2)}

	sq, err := Open(ctx, Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "subs.db"), MaxExtraGroups: 2}, logx.Nop())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	stores["sqlite"] = sq

	if dsn := os.Getenv("SCHEDBOT_TEST_DATABASE_URL"); dsn != "" {
		pg, err := Open(ctx, Config{Driver: "postgres", DSN: dsn, MaxExtraGroups: 2}, logx.Nop())
		if err != nil {
			t.Fatalf("open postgres: %v", err)
		}
		stores["postgres"] = pg
	}
	t.Cleanup(func() {
		for _, s := range stores {
			_ = s.Close()
		}
	})
	return stores
}

func TestStoreGroups(t *testing.T) {
	ctx := context.Background()
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			const id = 1001
			if err := st.EnsureUser(ctx, id, "alice"); err != nil {
				t.Fatalf("EnsureUser: %v", err)
			}
			u, err := st.User(ctx, id)
			if err != nil {
				t.Fatalf("User: %v", err)
			}
			if u.Username != "alice" || u.MainGroup != "" {
				t.Fatalf("user = %+v", u)
			}
			if _, err := st.User(ctx, 999999); !errors.Is(err, ErrNotFound) {
				t.Fatalf("missing user err = %v, want ErrNotFound", err)
			}

			if err := st.SetMainGroup(ctx, id, "ИС-21"); err != nil {
				t.Fatalf("SetMainGroup: %v", err)
			}
			if err := st.AddExtraGroup(ctx, id, "ПК-22"); err != nil {
				t.Fatalf("AddExtraGroup: %v", err)
			}
			if err := st.AddExtraGroup(ctx, id, "АБ-10"); err != nil {
				t.Fatalf("AddExtraGroup #2: %v", err)
			}
			if err := st.AddExtraGroup(ctx, id, "ИС-21"); !errors.Is(err, ErrAlreadyTracked) {
				t.Fatalf("main as extra err = %v, want ErrAlreadyTracked", err)
			}
			if err := st.AddExtraGroup(ctx, id, "ПК-22"); !errors.Is(err, ErrAlreadyTracked) {
				t.Fatalf("duplicate err = %v, want ErrAlreadyTracked", err)
			}
			if err := st.AddExtraGroup(ctx, id, "ЭК-41"); !errors.Is(err, ErrLimitReached) {
				t.Fatalf("over limit err = %v, want ErrLimitReached", err)
			}
			if err := st.AddExtraGroup(ctx, id, "bad group!"); !errors.Is(err, ErrInvalidGroup) {
				t.Fatalf("invalid err = %v, want ErrInvalidGroup", err)
			}

			got, err := st.TrackedGroups(ctx, id)
			if err != nil {
				t.Fatalf("TrackedGroups: %v", err)
			}
			if want := []string{"ИС-21", "ПК-22", "АБ-10"}; !reflect.DeepEqual(got, want) {
				t.Fatalf("TrackedGroups = %v, want %v", got, want)
			}

			if err := st.RemoveExtraGroup(ctx, id, "ПК-22"); err != nil {
				t.Fatalf("RemoveExtraGroup: %v", err)
			}
			if err := st.RemoveExtraGroup(ctx, id, "ПК-22"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("second remove err = %v, want ErrNotFound", err)
			}
			extras, err := st.ExtraGroups(ctx, id)
			if err != nil {
				t.Fatalf("ExtraGroups: %v", err)
			}
			if !reflect.DeepEqual(extras, []string{"АБ-10"}) {
				t.Fatalf("ExtraGroups = %v", extras)
			}

			none, err := st.TrackedGroups(ctx, 424242)
			if err != nil || len(none) != 0 {
				t.Fatalf("unknown user tracked = %v, %v", none, err)
			}
		})
	}
}

func TestStoreSubscriptions(t *testing.T) {
	ctx := context.Background()
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			created, err := st.Subscribe(ctx, 7)
			if err != nil || !created {
				t.Fatalf("Subscribe = %v, %v; want true", created, err)
			}
			if created, _ := st.Subscribe(ctx, 7); created {
				t.Fatal("second Subscribe should report existing subscription")
			}
			if _, err := st.Subscribe(ctx, 3); err != nil {
				t.Fatalf("Subscribe(3): %v", err)
			}
			if err := st.SetMainGroup(ctx, 3, "ИС-21"); err != nil {
				t.Fatalf("SetMainGroup: %v", err)
			}

			ids, err := st.ListSubscribers(ctx)
			if err != nil {
				t.Fatalf("ListSubscribers: %v", err)
			}
			if !reflect.DeepEqual(ids, []int64{3, 7}) {
				t.Fatalf("ListSubscribers = %v, want [3 7]", ids)
			}

			stats, err := st.Stats(ctx)
			if err != nil {
				t.Fatalf("Stats: %v", err)
			}
			if stats.Users != 2 || stats.Subscribers != 2 || stats.WithGroup != 1 {
				t.Fatalf("Stats = %+v", stats)
			}

			if ok, _ := st.Unsubscribe(ctx, 7); !ok {
				t.Fatal("Unsubscribe should report removal")
			}
			if sub, _ := st.IsSubscribed(ctx, 7); sub {
				t.Fatal("IsSubscribed(7) after unsubscribe")
			}
			if sub, _ := st.IsSubscribed(ctx, 3); !sub {
				t.Fatal("IsSubscribed(3) = false")
			}
		})
	}
}

func TestValidateGroupName(t *testing.T) {
	t.Parallel()
	tests := map[string]bool{
		"ИС-21":                  true,
		"is-21":                  true,
		"A":                      false,
		"":                       false,
		"ИС 21":                  false,
		"ГРУППА-С-ОЧЕНЬ-ДЛИННЫМ": false,
		"ПК_22":                  false,
	}
	for in, ok := range tests {
		err := ValidateGroupName(in)
		if (err == nil) != ok {
			t.Fatalf("ValidateGroupName(%q) = %v, want ok=%v", in, err, ok)
		}
		if err != nil && !errors.Is(err, ErrInvalidGroup) {
			t.Fatalf("ValidateGroupName(%q) error does not wrap ErrInvalidGroup", in)
		}
	}
	if got := Reason(ValidateGroupName("A")); got != "Название группы слишком короткое (мин. 2 символа)" {
		t.Fatalf("Reason = %q", got)
	}
	if got := NormalizeGroupName("  ис-21 "); got != "ИС-21" {
		t.Fatalf("NormalizeGroupName = %q", got)
	}
}
