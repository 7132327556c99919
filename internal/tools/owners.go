package tools

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// Owner is one row of the screen ownership roster.
type Owner struct {
	Screen string
	Name   string
	Email  string
	Phone  string
}

// seedOwners backs owner lookups when no owners.csv has been uploaded.
var seedOwners = []Owner{
	{Screen: "HR System - User Admin", Name: "Jane Hong", Email: "owner.hr@example.com", Phone: "010-1234-5678"},
	{Screen: "Finance System - Settlement", Name: "Kim Finance", Email: "owner.fa@example.com", Phone: "010-2222-3333"},
	{Screen: "Portal - Announcements", Name: "Park Ops", Email: "owner.ops@example.com", Phone: "010-9999-0000"},
}

// LoadOwners reads the ownership roster from path. A missing or unreadable
// file falls back to the built-in seed roster, so owner lookups always have
// something to answer from.
func LoadOwners(path string, logger *slog.Logger) []Owner {
	if logger == nil {
		logger = slog.Default()
	}

	f, err := os.Open(path)
	if err != nil {
		logger.Info("owners roster not found, using built-in seed", "path", path)
		return seedOwners
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil || len(records) < 2 {
		logger.Warn("owners roster unreadable, using built-in seed", "path", path, "error", err)
		return seedOwners
	}

	header := records[0]
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	col := map[string]int{}
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	field := func(record []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var owners []Owner
	for _, record := range records[1:] {
		o := Owner{
			Screen: field(record, "screen"),
			Name:   field(record, "owner"),
			Email:  field(record, "email"),
			Phone:  field(record, "phone"),
		}
		if o.Screen == "" || o.Name == "" {
			continue
		}
		owners = append(owners, o)
	}
	if len(owners) == 0 {
		logger.Warn("owners roster has no usable rows, using built-in seed", "path", path)
		return seedOwners
	}
	logger.Info("loaded owners roster", "path", path, "owners", len(owners))
	return owners
}

func formatOwner(o Owner) string {
	return fmt.Sprintf("Owner of %q:\n- Name: %s\n- Email: %s\n- Phone: %s",
		o.Screen, o.Name, o.Email, o.Phone)
}

func formatRoster(owners []Owner) string {
	var sb strings.Builder
	sb.WriteString("Full ownership roster:\n")
	for _, o := range owners {
		fmt.Fprintf(&sb, "- %s: %s (%s, %s)\n", o.Screen, o.Name, o.Email, o.Phone)
	}
	return strings.TrimRight(sb.String(), "\n")
}
