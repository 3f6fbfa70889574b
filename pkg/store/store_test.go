package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenCreatesSchema(t *testing.T) {
	s := openTest(t)
	st := s.Stats(context.Background())
	if st != (Stats{}) {
		t.Errorf("Stats() = %+v, want zero", st)
	}
}

func TestEnsureUser(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	u, err := s.EnsureUser(ctx, User{ID: "@anna:example.org", DisplayName: "Анна", Timezone: "Europe/Moscow"})
	if err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	if u.Timezone != "Europe/Moscow" || !u.Active {
		t.Errorf("EnsureUser() = %+v", u)
	}
	if u.Location().String() != "Europe/Moscow" {
		t.Errorf("Location() = %s", u.Location())
	}

	again, err := s.EnsureUser(ctx, User{ID: "@anna:example.org", ChatID: "!room"})
	if err != nil {
		t.Fatalf("EnsureUser again: %v", err)
	}
	if again.DisplayName != "Анна" || again.ChatID != "!room" {
		t.Errorf("second EnsureUser() = %+v", again)
	}

	moved, err := s.EnsureUser(ctx, User{ID: "@anna:example.org", ChatID: "!other"})
	if err != nil {
		t.Fatalf("EnsureUser moved: %v", err)
	}
	if moved.ChatID != "!other" {
		t.Errorf("ChatID after new room = %q, want !other", moved.ChatID)
	}
	kept, err := s.EnsureUser(ctx, User{ID: "@anna:example.org"})
	if err != nil {
		t.Fatalf("EnsureUser without chat: %v", err)
	}
	if kept.ChatID != "!other" {
		t.Errorf("ChatID after chat-less contact = %q, want !other", kept.ChatID)
	}
	stored, err := s.GetUser(ctx, "@anna:example.org")
	if err != nil || stored.ChatID != "!other" {
		t.Errorf("GetUser() = %+v, %v", stored, err)
	}

	if _, err := s.GetUser(ctx, "@nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetUser(missing) err = %v, want ErrNotFound", err)
	}
}

func TestNotes(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	first, err := s.CreateNote(ctx, "u1", "Бюджет проекта: 100к", []string{"работа"})
	if err != nil {
		t.Fatalf("CreateNote: %v", err)
	}
	if _, err := s.CreateNote(ctx, "u1", "Купить молоко", nil); err != nil {
		t.Fatalf("CreateNote: %v", err)
	}
	if _, err := s.CreateNote(ctx, "u2", "чужая заметка про бюджет", nil); err != nil {
		t.Fatalf("CreateNote: %v", err)
	}

	notes, err := s.ListNotes(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("ListNotes: %v", err)
	}
	if len(notes) != 2 || notes[0].Text != "Купить молоко" {
		t.Fatalf("ListNotes() = %+v, want newest first", notes)
	}

	found, err := s.SearchNotes(ctx, "u1", "БЮДЖЕТ", 5)
	if err != nil {
		t.Fatalf("SearchNotes: %v", err)
	}
	if len(found) != 1 || found[0].ID != first.ID {
		t.Errorf("SearchNotes() = %+v", found)
	}
	if byTag, _ := s.SearchNotes(ctx, "u1", "работа", 5); len(byTag) != 1 {
		t.Errorf("SearchNotes(tag) = %+v", byTag)
	}

	text := "Бюджет проекта: 120к"
	if err := s.UpdateNote(ctx, "u1", first.ID, &text, nil); err != nil {
		t.Fatalf("UpdateNote: %v", err)
	}
	got, _ := s.NotesByIDs(ctx, "u1", []string{first.ID})
	if len(got) != 1 || got[0].Text != text || len(got[0].Tags) != 1 {
		t.Errorf("after update = %+v", got)
	}
	if err := s.UpdateNote(ctx, "u2", first.ID, &text, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateNote(other user) err = %v", err)
	}

	if err := s.DeleteNote(ctx, "u1", first.ID); err != nil {
		t.Fatalf("DeleteNote: %v", err)
	}
	if err := s.DeleteNote(ctx, "u1", first.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteNote err = %v", err)
	}

	refs, err := s.NoteRefs(ctx)
	if err != nil {
		t.Fatalf("NoteRefs: %v", err)
	}
	if len(refs) != 2 || refs[0].ContentHash == "" {
		t.Errorf("NoteRefs() = %+v", refs)
	}
}

func TestTasks(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	due := time.Date(2026, 10, 20, 15, 0, 0, 0, time.UTC)

	task, err := s.CreateTask(ctx, Task{OwnerID: "u1", Title: "Позвонить Ивану", Due: "2026-10-20 18:00", DueAt: &due})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if task.Status != "todo" || task.Priority != "medium" || task.Scope != ScopePersonal {
		t.Errorf("defaults = %+v", task)
	}

	if _, err := s.GetTask(ctx, ScopePersonal, "u2", task.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetTask(other owner) err = %v", err)
	}

	done := StatusDone
	updated, err := s.UpdateTask(ctx, ScopePersonal, "u1", task.ID, TaskPatch{Status: &done})
	if err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	if updated.Status != StatusDone || updated.DueAt == nil || !updated.DueAt.Equal(due) {
		t.Errorf("UpdateTask() = %+v", updated)
	}

	list, err := s.ListTasks(ctx, ScopePersonal, "u1", "todo")
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("ListTasks(todo) = %+v", list)
	}
	if list, _ = s.ListTasks(ctx, ScopePersonal, "u1", ""); len(list) != 1 {
		t.Errorf("ListTasks(all) = %+v", list)
	}
}

func TestListColumnsKeepCommas(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	assignees := []string{"Иванов, Пётр", "анна"}
	tags := []string{"q3, бюджет"}

	task, err := s.CreateTask(ctx, Task{Scope: ScopeTeam, OwnerID: "u1", Title: "отчёт", Tags: tags, Assignees: assignees})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	got, err := s.GetTask(ctx, ScopeTeam, "u1", task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if strings.Join(got.Assignees, "|") != "Иванов, Пётр|анна" || strings.Join(got.Tags, "|") != "q3, бюджет" {
		t.Errorf("GetTask() assignees = %q, tags = %q", got.Assignees, got.Tags)
	}

	if _, err := s.CreateNote(ctx, "u1", "заметка", tags); err != nil {
		t.Fatalf("CreateNote: %v", err)
	}
	notes, err := s.ListNotes(ctx, "u1", 1)
	if err != nil {
		t.Fatalf("ListNotes: %v", err)
	}
	if len(notes) != 1 || len(notes[0].Tags) != 1 || notes[0].Tags[0] != "q3, бюджет" {
		t.Errorf("ListNotes() tags = %+v", notes)
	}

	if got := splitList("работа, дом"); strings.Join(got, "|") != "работа|дом" {
		t.Errorf("splitList(legacy) = %q", got)
	}
	if got := splitList(""); got != nil {
		t.Errorf("splitList(empty) = %q", got)
	}
}

func TestUpcomingTasks(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	past := now.Add(-2 * time.Hour)
	soon := now.Add(3 * time.Hour)
	later := now.Add(72 * time.Hour)

	u := User{ID: "u1", DisplayName: "Анна"}
	mustTask := func(tk Task) {
		t.Helper()
		if _, err := s.CreateTask(ctx, tk); err != nil {
			t.Fatalf("CreateTask: %v", err)
		}
	}
	mustTask(Task{OwnerID: "u1", Title: "просрочено", DueAt: &past})
	mustTask(Task{OwnerID: "u1", Title: "скоро", DueAt: &soon})
	mustTask(Task{OwnerID: "u1", Title: "потом", DueAt: &later})
	mustTask(Task{OwnerID: "u1", Title: "готово", DueAt: &past, Status: StatusDone})
	mustTask(Task{OwnerID: "u2", Title: "чужая", DueAt: &soon})
	mustTask(Task{Scope: ScopeTeam, OwnerID: "u2", Title: "командная", DueAt: &soon, Assignees: []string{"анна"}})
	mustTask(Task{Scope: ScopeTeam, OwnerID: "u2", Title: "не моя", DueAt: &soon, Assignees: []string{"Пётр"}})

	tasks, err := s.UpcomingTasks(ctx, u, now, 24*time.Hour)
	if err != nil {
		t.Fatalf("UpcomingTasks: %v", err)
	}
	var titles []string
	for _, tk := range tasks {
		titles = append(titles, tk.Title)
	}
	if got := strings.Join(titles, ","); got != "просрочено,скоро,командная" {
		t.Errorf("UpcomingTasks() = %s", got)
	}
	if !tasks[0].Overdue(now) || tasks[1].Overdue(now) {
		t.Error("Overdue() mismatch")
	}
}

func TestUpsertEvent(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	start := time.Date(2026, 10, 21, 9, 0, 0, 0, time.UTC)

	e, created, err := s.UpsertEvent(ctx, Event{UserID: "u1", Title: "Созвон", Start: start})
	if err != nil {
		t.Fatalf("UpsertEvent: %v", err)
	}
	if !created || !e.End.Equal(start.Add(time.Hour)) {
		t.Errorf("UpsertEvent() = %+v created=%v", e, created)
	}

	e.Title = "Созвон с командой"
	if _, created, err = s.UpsertEvent(ctx, e); err != nil || created {
		t.Fatalf("UpsertEvent(update) created=%v err=%v", created, err)
	}
	if _, _, err = s.UpsertEvent(ctx, Event{ID: "missing", UserID: "u1", Start: start}); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpsertEvent(missing) err = %v", err)
	}

	events, err := s.ListEvents(ctx, "u1", start.Add(-time.Hour), start.Add(24*time.Hour), 10)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 1 || events[0].Title != "Созвон с командой" {
		t.Errorf("ListEvents() = %+v", events)
	}
}

func TestDialogAndKV(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	for _, text := range []string{"один", "два", "три"} {
		if err := s.LogDialog(ctx, DialogEntry{UserID: "u1", Text: text, Response: "ok", Decision: "execute"}); err != nil {
			t.Fatalf("LogDialog: %v", err)
		}
	}
	entries, err := s.RecentDialog(ctx, "u1", 2)
	if err != nil {
		t.Fatalf("RecentDialog: %v", err)
	}
	if len(entries) != 2 || entries[0].Text != "два" || entries[1].Text != "три" {
		t.Errorf("RecentDialog() = %+v", entries)
	}

	if v, err := s.KVGet(ctx, "missing"); err != nil || v != "" {
		t.Errorf("KVGet(missing) = %q, %v", v, err)
	}
	if err := s.KVSet(ctx, "k", "v1"); err != nil {
		t.Fatalf("KVSet: %v", err)
	}
	s.KVSet(ctx, "k", "v2")
	if v, _ := s.KVGet(ctx, "k"); v != "v2" {
		t.Errorf("KVGet() = %q", v)
	}
}

func TestSummary(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	got, err := s.Summary(ctx, "u1")
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if got != "Личные задачи: нет | Командные задачи: нет" {
		t.Errorf("Summary(empty) = %q", got)
	}

	s.CreateTask(ctx, Task{OwnerID: "u1", Title: strings.Repeat("я", 300)})
	got, _ = s.Summary(ctx, "u1")
	personal := strings.TrimPrefix(strings.Split(got, " | ")[0], "Личные задачи: ")
	if n := len([]rune(personal)); n != summaryPartChars {
		t.Errorf("personal part = %d runes, want %d", n, summaryPartChars)
	}
}

func TestParseLocal(t *testing.T) {
	loc := Location("Europe/Moscow")
	for _, in := range []string{"2026-10-20 18:00", "2026-10-20T18:00", "2026-10-20T18:00:00+03:00"} {
		got, err := ParseLocal(in, loc)
		if err != nil {
			t.Fatalf("ParseLocal(%q): %v", in, err)
		}
		if want := time.Date(2026, 10, 20, 15, 0, 0, 0, time.UTC); !got.Equal(want) {
			t.Errorf("ParseLocal(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := ParseLocal("завтра", loc); err == nil {
		t.Error("ParseLocal(завтра) succeeded")
	}
	if Location("Mars/Olympus").String() != "UTC" {
		t.Error("unknown zone should fall back to UTC")
	}
}
