package od

import (
	"fmt"
	"regexp"
	"strconv"

	"gopkg.in/ini.v1"
)

var matchIdxRegExp = regexp.MustCompile(`^[0-9A-Fa-f]{4}$`)
var matchSubidxRegExp = regexp.MustCompile(`^([0-9A-Fa-f]{4})sub([0-9A-Fa-f]+)$`)

// Parse an EDS file
// file can be either a path or an *os.File or []byte
func Parse(file any) (*ObjectDictionary, error) {
	od := NewOD()
	edsFile, err := ini.Load(file)
	if err != nil {
		return nil, err
	}
	sections := edsFile.Sections()

	// Entries first, sub entries need their parent
	for _, section := range sections {
		sectionName := section.Name()
		if !matchIdxRegExp.MatchString(sectionName) {
			continue
		}
		idx, err := strconv.ParseUint(sectionName, 16, 16)
		if err != nil {
			return nil, err
		}
		index := uint16(idx)
		name := section.Key("ParameterName").String()
		objType, err := strconv.ParseUint(section.Key("ObjectType").Value(), 0, 8)
		objectType := uint8(objType)
		// If no object type, default to 7 (CiA spec)
		if err != nil {
			objectType = ObjectTypeVAR
		}
		switch objectType {
		case ObjectTypeVAR:
			datatype, attribute, value, err := parseVariableSection(section)
			if err != nil {
				return nil, fmt.Errorf("failed to parse x%x : %w", index, err)
			}
			if _, err := od.AddVariableType(index, name, datatype, attribute, value); err != nil {
				return nil, fmt.Errorf("failed to parse 'DefaultValue' for x%x : %w", index, err)
			}
		case ObjectTypeARRAY:
			od.AddArray(index, name)
		case ObjectTypeRECORD:
			od.AddRecord(index, name)
		default:
			return nil, fmt.Errorf("unsupported object type %v for x%x", objectType, index)
		}
	}

	for _, section := range sections {
		match := matchSubidxRegExp.FindStringSubmatch(section.Name())
		if match == nil {
			continue
		}
		idx, err := strconv.ParseUint(match[1], 16, 16)
		if err != nil {
			return nil, err
		}
		sidx, err := strconv.ParseUint(match[2], 16, 8)
		if err != nil {
			return nil, err
		}
		entry := od.Index(uint16(idx))
		if entry == nil {
			return nil, fmt.Errorf("sub entry %v without parent entry", section.Name())
		}
		datatype, attribute, value, err := parseVariableSection(section)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %v : %w", formatIndex(uint16(idx), uint8(sidx)), err)
		}
		name := section.Key("ParameterName").String()
		if _, err := entry.AddSubObject(uint8(sidx), name, datatype, attribute, value); err != nil {
			return nil, fmt.Errorf("failed to parse 'DefaultValue' for %v : %w", formatIndex(uint16(idx), uint8(sidx)), err)
		}
	}
	return od, nil
}

func parseVariableSection(section *ini.Section) (datatype uint8, attribute uint8, value string, err error) {
	dt, err := strconv.ParseUint(section.Key("DataType").Value(), 0, 8)
	if err != nil {
		return 0, 0, "", fmt.Errorf("need data type : %w", err)
	}
	datatype = uint8(dt)
	if _, err = DatatypeWidth(datatype); err != nil {
		return 0, 0, "", fmt.Errorf("unsupported data type x%x", datatype)
	}
	pdoMapping, _ := section.Key("PDOMapping").Bool()
	attribute = EncodeAttribute(section.Key("AccessType").String(), pdoMapping)
	value = section.Key("DefaultValue").String()
	return datatype, attribute, value, nil
}
