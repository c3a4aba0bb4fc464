package od

import (
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"
)

// ObjectDictionary holds all the CoE entries of a slave.
// This is the internal representation of an EDS file.
type ObjectDictionary struct {
	mu                  sync.RWMutex
	entriesByIndexValue map[uint16]*Entry
	entriesByIndexName  map[string]*Entry
}

// NewOD creates an empty object dictionary
func NewOD() *ObjectDictionary {
	return &ObjectDictionary{
		entriesByIndexValue: make(map[uint16]*Entry),
		entriesByIndexName:  make(map[string]*Entry),
	}
}

// Add an entry to OD, any existing entry will be replaced
func (od *ObjectDictionary) addEntry(entry *Entry) {
	od.mu.Lock()
	defer od.mu.Unlock()
	if _, exists := od.entriesByIndexValue[entry.Index]; exists {
		log.Warnf("[OD] overwritting entry x%x", entry.Index)
	}
	od.entriesByIndexValue[entry.Index] = entry
	od.entriesByIndexName[entry.Name] = entry
}

// AddVariableType adds an entry of type VAR to OD
// the value should be given as a string e.g. 0x22 or -300
// If the variable already exists, it will be overwritten
func (od *ObjectDictionary) AddVariableType(
	index uint16,
	name string,
	datatype uint8,
	attribute uint8,
	value string,
) (*Entry, error) {
	entry := newEntry(index, name, ObjectTypeVAR)
	if _, err := entry.AddSubObject(0, name, datatype, attribute, value); err != nil {
		return nil, err
	}
	od.addEntry(entry)
	return entry, nil
}

// AddRecord adds an empty entry of type RECORD, members are added with [Entry.AddSubObject]
func (od *ObjectDictionary) AddRecord(index uint16, name string) *Entry {
	entry := newEntry(index, name, ObjectTypeRECORD)
	od.addEntry(entry)
	return entry
}

// AddArray adds an empty entry of type ARRAY, members are added with [Entry.AddSubObject]
func (od *ObjectDictionary) AddArray(index uint16, name string) *Entry {
	entry := newEntry(index, name, ObjectTypeARRAY)
	od.addEntry(entry)
	return entry
}

// Index returns an OD entry at the specified index.
// index can either be a string, int or uint16.
// This method does not return an error (for chaining with Subindex() method)
// but instead returns nil if no corresponding [Entry] is found.
func (od *ObjectDictionary) Index(index any) *Entry {
	od.mu.RLock()
	defer od.mu.RUnlock()
	switch ind := index.(type) {
	case string:
		return od.entriesByIndexName[ind]
	case int:
		return od.entriesByIndexValue[uint16(ind)]
	case uint16:
		return od.entriesByIndexValue[ind]
	default:
		return nil
	}
}

// Lookup returns the [Variable] at (index, subindex)
func (od *ObjectDictionary) Lookup(index uint16, subIndex uint8) (*Variable, error) {
	entry := od.Index(index)
	if entry == nil {
		return nil, ErrIdxNotExist
	}
	return entry.SubIndex(subIndex)
}

// Entries returns all entries ordered by index
func (od *ObjectDictionary) Entries() []*Entry {
	od.mu.RLock()
	defer od.mu.RUnlock()
	entries := make([]*Entry, 0, len(od.entriesByIndexValue))
	for _, e := range od.entriesByIndexValue {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Index < entries[j].Index })
	return entries
}
