package am

import (
	"github.com/teranos/vclean/cleaner"
	"github.com/teranos/vclean/schema"
)

// Registry builds the record type registry from [schema] settings
func (s SchemaConfig) Registry() (*schema.Registry, error) {
	classColumn := s.ClassColumn
	if classColumn == "" {
		classColumn = DefaultClassColumn
	}

	defs := make([]schema.TypeDef, 0, len(s.Types))
	for _, t := range s.Types {
		defs = append(defs, schema.TypeDef{Name: t.Name, Parent: t.Parent, Table: t.Table})
	}
	return schema.NewRegistry(defs, classColumn)
}

// Defaults converts [cleaner] settings into the defaults applied to new and re-armed jobs
func (c CleanerConfig) Defaults() cleaner.Defaults {
	every, err := cleaner.ParsePeriod(c.ExecuteEvery)
	if err != nil {
		every = cleaner.PeriodMinute
	}
	return cleaner.Defaults{
		RecordType:      c.DefaultRecordType,
		VersionsToKeep:  c.VersionsToKeep,
		ExecuteInterval: c.ExecuteInterval,
		ExecuteEvery:    every,
	}
}
