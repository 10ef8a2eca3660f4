package config

import (
	"fmt"
	"regexp"
	"strconv"

	"gopkg.in/ini.v1"
)

// SlaveMapping describes one physical slave's role: which logical module
// index it feeds, and whether it is additionally wired as the pack's total
// voltage/current measurer.
type SlaveMapping struct {
	SlaveID              int
	ModuleIndex          int
	IsTotalVoltageSource bool
	IsTotalCurrentSource bool
}

// sectionNameExp matches section headers of the form "slave:<id>", mirroring
// the object-dictionary parser's indexed-section convention.
var sectionNameExp = regexp.MustCompile(`^slave:(\d+)$`)

// LoadSlaveMapping parses an INI file whose sections are named "slave:<id>"
// (1-based physical slave id), each carrying the keys ModuleIndex,
// TotalVoltageMeasurer and TotalCurrentMeasurer.
//
//	[slave:1]
//	ModuleIndex=0
//	TotalVoltageMeasurer=true
//
//	[slave:2]
//	ModuleIndex=1
func LoadSlaveMapping(path string) ([]SlaveMapping, error) {
	mappingFile, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: loading slave mapping %s: %w", path, err)
	}

	var mappings []SlaveMapping
	for _, section := range mappingFile.Sections() {
		matches := sectionNameExp.FindStringSubmatch(section.Name())
		if matches == nil {
			continue
		}
		slaveID, err := strconv.Atoi(matches[1])
		if err != nil {
			return nil, fmt.Errorf("config: section %s: invalid slave id: %w", section.Name(), err)
		}
		moduleIndex, err := section.Key("ModuleIndex").Int()
		if err != nil {
			return nil, fmt.Errorf("config: section %s: invalid ModuleIndex: %w", section.Name(), err)
		}
		mappings = append(mappings, SlaveMapping{
			SlaveID:              slaveID,
			ModuleIndex:          moduleIndex,
			IsTotalVoltageSource: section.Key("TotalVoltageMeasurer").MustBool(false),
			IsTotalCurrentSource: section.Key("TotalCurrentMeasurer").MustBool(false),
		})
	}
	return mappings, nil
}

// ModuleIndexForSlave looks up the logical module index mapped to a
// physical slave id, returning false if no mapping is configured for it.
func ModuleIndexForSlave(mappings []SlaveMapping, slaveID int) (int, bool) {
	for _, m := range mappings {
		if m.SlaveID == slaveID {
			return m.ModuleIndex, true
		}
	}
	return 0, false
}
