package device

import (
	"context"
	"errors"
	"testing"
)

func TestGroupCreateAndGet(t *testing.T) {
	db := testDB(t)
	repo := NewSQLiteGroupRepository(db)
	ctx := context.Background()

	group := &Group{
		Name:     "Lobby Screens",
		Settings: Settings{"brightness": float64(70)},
	}
	if err := repo.Create(ctx, group); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if group.ID == "" {
		t.Fatal("Create did not assign an ID")
	}

	got, err := repo.GetByID(ctx, group.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Name != "Lobby Screens" {
		t.Errorf("name = %q", got.Name)
	}
	if got.Settings["brightness"] != float64(70) {
		t.Errorf("settings brightness = %v", got.Settings["brightness"])
	}
}

func TestGroupPatchClampsSortOrder(t *testing.T) {
	db := testDB(t)
	repo := NewSQLiteGroupRepository(db)
	ctx := context.Background()

	group := &Group{Name: "Ordered"}
	if err := repo.Create(ctx, group); err != nil {
		t.Fatalf("Create: %v", err)
	}

	tests := []struct {
		name  string
		order int64
		want  int64
	}{
		{"negative clamps to zero", -5, 0},
		{"huge clamps to max", 1_000_000_000_000, MaxSortOrder},
		{"in range unchanged", 42, 42},
		{"max boundary", MaxSortOrder, MaxSortOrder},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order := tt.order
			got, err := repo.Patch(ctx, group.ID, GroupPatch{SortOrder: &order})
			if err != nil {
				t.Fatalf("Patch: %v", err)
			}
			if got.SortOrder != tt.want {
				t.Errorf("sort order = %d, want %d", got.SortOrder, tt.want)
			}
		})
	}
}

func TestGroupPatchPartial(t *testing.T) {
	db := testDB(t)
	repo := NewSQLiteGroupRepository(db)
	ctx := context.Background()

	group := &Group{Name: "Before", Settings: Settings{"k": "v"}}
	if err := repo.Create(ctx, group); err != nil {
		t.Fatalf("Create: %v", err)
	}

	name := "After"
	got, err := repo.Patch(ctx, group.ID, GroupPatch{Name: &name})
	if err != nil {
		t.Fatalf("Patch: %v", err)
	}
	if got.Name != "After" {
		t.Errorf("name = %q, want After", got.Name)
	}
	// Untouched fields survive the patch
	if got.Settings["k"] != "v" {
		t.Errorf("settings lost during partial patch: %v", got.Settings)
	}
}

func TestGroupPatchNotFound(t *testing.T) {
	db := testDB(t)
	repo := NewSQLiteGroupRepository(db)

	name := "X"
	_, err := repo.Patch(context.Background(), "nonexistent", GroupPatch{Name: &name})
	if !errors.Is(err, ErrGroupNotFound) {
		t.Errorf("expected ErrGroupNotFound, got %v", err)
	}
}

func TestGroupMembership(t *testing.T) {
	db := testDB(t)
	deviceRepo := NewSQLiteRepository(db)
	repo := NewSQLiteGroupRepository(db)
	ctx := context.Background()

	d1 := createTestDevice(t, deviceRepo, "One", "i1", "h1")
	d2 := createTestDevice(t, deviceRepo, "Two", "i2", "h2")

	group := &Group{Name: "Pair"}
	if err := repo.Create(ctx, group); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := repo.AddDevices(ctx, group.ID, []string{d1.ID, d2.ID}); err != nil {
		t.Fatalf("AddDevices: %v", err)
	}

	// Adding an existing member is a no-op, not an error
	if err := repo.AddDevices(ctx, group.ID, []string{d1.ID}); err != nil {
		t.Fatalf("re-adding member: %v", err)
	}

	members, err := repo.GetMemberIDs(ctx, group.ID)
	if err != nil {
		t.Fatalf("GetMemberIDs: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("member count = %d, want 2", len(members))
	}

	if err := repo.RemoveDevices(ctx, group.ID, []string{d1.ID}); err != nil {
		t.Fatalf("RemoveDevices: %v", err)
	}
	members, err = repo.GetMemberIDs(ctx, group.ID)
	if err != nil {
		t.Fatalf("GetMemberIDs: %v", err)
	}
	if len(members) != 1 || members[0] != d2.ID {
		t.Errorf("members after removal = %v, want [%s]", members, d2.ID)
	}
}

func TestGroupMembershipUnknownGroup(t *testing.T) {
	db := testDB(t)
	repo := NewSQLiteGroupRepository(db)

	err := repo.AddDevices(context.Background(), "nonexistent", []string{"d1"})
	if !errors.Is(err, ErrGroupNotFound) {
		t.Errorf("expected ErrGroupNotFound, got %v", err)
	}
}

func TestGroupsForDeviceOrdered(t *testing.T) {
	db := testDB(t)
	deviceRepo := NewSQLiteRepository(db)
	repo := NewSQLiteGroupRepository(db)
	ctx := context.Background()

	d := createTestDevice(t, deviceRepo, "Display", "i1", "h1")

	second := &Group{Name: "Second", SortOrder: 20}
	first := &Group{Name: "First", SortOrder: 10}
	for _, g := range []*Group{second, first} {
		if err := repo.Create(ctx, g); err != nil {
			t.Fatalf("Create: %v", err)
		}
		if err := repo.AddDevices(ctx, g.ID, []string{d.ID}); err != nil {
			t.Fatalf("AddDevices: %v", err)
		}
	}

	groups, err := repo.GetGroupsForDevice(ctx, d.ID)
	if err != nil {
		t.Fatalf("GetGroupsForDevice: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("group count = %d, want 2", len(groups))
	}
	if groups[0].Name != "First" || groups[1].Name != "Second" {
		t.Errorf("groups out of order: %q, %q", groups[0].Name, groups[1].Name)
	}
}

func TestGroupDeleteCascadesMembership(t *testing.T) {
	db := testDB(t)
	deviceRepo := NewSQLiteRepository(db)
	repo := NewSQLiteGroupRepository(db)
	ctx := context.Background()

	d := createTestDevice(t, deviceRepo, "Display", "i1", "h1")
	group := &Group{Name: "Doomed"}
	if err := repo.Create(ctx, group); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.AddDevices(ctx, group.ID, []string{d.ID}); err != nil {
		t.Fatalf("AddDevices: %v", err)
	}

	if err := repo.Delete(ctx, group.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	groups, err := repo.GetGroupsForDevice(ctx, d.ID)
	if err != nil {
		t.Fatalf("GetGroupsForDevice: %v", err)
	}
	if len(groups) != 0 {
		t.Errorf("membership survived group deletion: %v", groups)
	}
}
