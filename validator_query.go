package storage

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

const (
	tableLeads     = "leads"
	tableContacts  = "contacts"
	tableUsers     = "users"
	tablePipelines = "pipelines"
	tableStages    = "stages"

	filterAll = "all"
)

// filter names as they appear in cache keys and query strings
const (
	filterSearch     = "search"
	filterStatus     = "status"
	filterPipelineID = "pipeline_id"
	filterAssignedTo = "assigned_to"
)

var filterAliases = map[string]string{
	"search":      filterSearch,
	"status":      filterStatus,
	"pipelineId":  filterPipelineID,
	"pipeline_id": filterPipelineID,
	"assignedTo":  filterAssignedTo,
	"assigned_to": filterAssignedTo,
}

// LeadFiltersFromMap builds filters from loosely keyed input such as URL query parameters.
// Both camelCase and column names are accepted; unknown keys are rejected.
func LeadFiltersFromMap(m map[string]string) (LeadFilters, error) {
	f := LeadFilters{}
	for k, v := range m {
		name, ok := filterAliases[k]
		if !ok {
			return LeadFilters{}, invalid("unknown lead filter %q", k)
		}
		switch name {
		case filterSearch:
			f.Search = v
		case filterStatus:
			f.Status = v
		case filterPipelineID:
			f.PipelineID = v
		case filterAssignedTo:
			f.AssignedTo = v
		}
	}
	return f, nil
}

// normalized trims values, drops "all" and lower-cases search (matching is case-insensitive anyway)
func (f LeadFilters) normalized() LeadFilters {
	clean := func(s string) string {
		s = strings.TrimSpace(s)
		if strings.EqualFold(s, filterAll) {
			return ""
		}
		return s
	}
	return LeadFilters{
		Search:     strings.ToLower(strings.TrimSpace(f.Search)),
		Status:     clean(f.Status),
		PipelineID: clean(f.PipelineID),
		AssignedTo: clean(f.AssignedTo),
	}
}

func (f LeadFilters) fields() map[string]string {
	m := map[string]string{}
	if f.Search != "" {
		m[filterSearch] = f.Search
	}
	if f.Status != "" {
		m[filterStatus] = f.Status
	}
	if f.PipelineID != "" {
		m[filterPipelineID] = f.PipelineID
	}
	if f.AssignedTo != "" {
		m[filterAssignedTo] = f.AssignedTo
	}
	return m
}

func (f LeadFilters) validate() error {
	if f.Status != "" && !validStatus(f.Status) {
		return invalid("unknown lead status %q", f.Status)
	}
	return nil
}

/*
	cacheKey follows the `service:<service>|<table>|col=value|col=value` format. Fields are
	sorted by column name so any two logically identical queries produce the same key.
	Values are escaped so a `|` or `=` inside a search term can't forge another key.
*/
func cacheKey(service string, table string, fields map[string]string) string {
	cols := make([]string, 0, len(fields))
	for c := range fields {
		cols = append(cols, c)
	}
	sort.Strings(cols)

	b := strings.Builder{}
	b.WriteString(fmt.Sprintf("service:%s|%s", service, table))
	for _, c := range cols {
		b.WriteString("|")
		b.WriteString(c)
		b.WriteString("=")
		b.WriteString(url.QueryEscape(fields[c]))
	}
	return b.String()
}

func leadListKey(service string, f LeadFilters) string {
	return cacheKey(service, tableLeads, f.normalized().fields())
}

func leadKey(service string, id string) string {
	return cacheKey(service, tableLeads, map[string]string{"id": id})
}

func contactsKey(service string, leadID string) string {
	return cacheKey(service, tableContacts, map[string]string{"lead_id": leadID})
}

func referenceKey(service string, table string) string {
	return cacheKey(service, table, nil)
}
