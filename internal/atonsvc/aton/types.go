package aton

// Kind is the closed variant set every AtoN type belongs to.
type Kind int

const (
	KindOther Kind = iota
	KindStructure
	KindEquipment
)

func (k Kind) String() string {
	switch k {
	case KindStructure:
		return "structure"
	case KindEquipment:
		return "equipment"
	default:
		return "other"
	}
}

// Type is the AtoN category. The zero value is TypeUnknown.
type Type int

const (
	TypeUnknown Type = iota
	TypeCardinalBeacon
	TypeLateralBeacon
	TypeIsolatedDangerBeacon
	TypeSafeWaterBeacon
	TypeSpecialPurposeBeacon
	TypeCardinalBuoy
	TypeLateralBuoy
	TypeInstallationBuoy
	TypeIsolatedDangerBuoy
	TypeSafeWaterBuoy
	TypeSpecialPurposeBuoy
	TypeDaymark
	TypeFogSignal
	TypeLight
	TypeLightFloat
	TypeLandmark
	TypeLighthouse
	TypeLightVessel
	TypeNavigationLine
	TypeOffshorePlatform
	TypePhysicalAISAtoN
	TypePile
	TypeRadarReflector
	TypeRadioStation
	TypeRecommendedTrack
	TypeRetroReflector
	TypeSiloTank
	TypeSyntheticAISAtoN
	TypeTopmark
	TypeVirtualAISAtoN
)

type typeInfo struct {
	tag         string
	description string
	kind        Kind
}

// typeTable is the single source of truth for the tag <-> type mapping,
// used by both ingestion and export.
var typeTable = map[Type]typeInfo{
	TypeCardinalBeacon:       {"BeaconCardinal", "Cardinal Beacon", KindStructure},
	TypeLateralBeacon:        {"BeaconLateral", "Lateral Beacon", KindStructure},
	TypeIsolatedDangerBeacon: {"BeaconIsolatedDanger", "Isolated Danger Beacon", KindStructure},
	TypeSafeWaterBeacon:      {"BeaconSafeWater", "Safe Water Beacon", KindStructure},
	TypeSpecialPurposeBeacon: {"BeaconSpecialPurpose", "Special Purpose Beacon", KindStructure},
	TypeCardinalBuoy:         {"BuoyCardinal", "Cardinal Buoy", KindStructure},
	TypeLateralBuoy:          {"BuoyLateral", "Lateral Buoy", KindStructure},
	TypeInstallationBuoy:     {"BuoyInstallation", "Installation Buoy", KindStructure},
	TypeIsolatedDangerBuoy:   {"BuoyIsolatedDanger", "Isolated Danger Buoy", KindStructure},
	TypeSafeWaterBuoy:        {"BuoySafeWater", "Safe Water Buoy", KindStructure},
	TypeSpecialPurposeBuoy:   {"BuoySpecialPurpose", "Special Purpose Buoy", KindStructure},
	TypeDaymark:              {"Daymark", "Daymark", KindEquipment},
	TypeFogSignal:            {"FogSignal", "Fog Signal", KindEquipment},
	TypeLight:                {"Light", "Light", KindEquipment},
	TypeLightFloat:           {"LightFloat", "Light Float", KindStructure},
	TypeLandmark:             {"Landmark", "Landmark", KindStructure},
	TypeLighthouse:           {"Lighthouse", "Lighthouse", KindStructure},
	TypeLightVessel:          {"LightVessel", "Light Vessel", KindStructure},
	TypeNavigationLine:       {"NavigationLine", "Navigation Line", KindOther},
	TypeOffshorePlatform:     {"OffshorePlatform", "Offshore Platform", KindStructure},
	TypePhysicalAISAtoN:      {"PhysicalAISAidToNavigation", "Physical AIS AtoN", KindEquipment},
	TypePile:                 {"Pile", "Pile", KindStructure},
	TypeRadarReflector:       {"RadarReflector", "Radar Reflector", KindEquipment},
	TypeRadioStation:         {"RadioStation", "Radio Station", KindEquipment},
	TypeRecommendedTrack:     {"RecommendedTrack", "Recommended Track", KindOther},
	TypeRetroReflector:       {"RetroReflector", "Retro Reflector", KindEquipment},
	TypeSiloTank:             {"SiloTank", "Silo Tank", KindEquipment},
	TypeSyntheticAISAtoN:     {"SyntheticAISAidToNavigation", "Synthetic AIS AtoN", KindEquipment},
	TypeTopmark:              {"Topmark", "Topmark", KindEquipment},
	TypeVirtualAISAtoN:       {"VirtualAISAidToNavigation", "Virtual AIS AtoN", KindEquipment},
}

var tagIndex = func() map[string]Type {
	m := make(map[string]Type, len(typeTable))
	for t, info := range typeTable {
		m[info.tag] = t
	}
	return m
}()

// TypeForTag maps an S-125 member element name to its type.
func TypeForTag(tag string) (Type, bool) {
	t, ok := tagIndex[tag]
	return t, ok
}

// Tag returns the S-125 element name, or "" for TypeUnknown.
func (t Type) Tag() string {
	return typeTable[t].tag
}

func (t Type) Kind() Kind {
	return typeTable[t].kind
}

func (t Type) Known() bool {
	_, ok := typeTable[t]
	return ok
}

func (t Type) String() string {
	if info, ok := typeTable[t]; ok {
		return info.description
	}
	return "Unknown"
}

// ParseType is the inverse of Tag for values read back from storage.
func ParseType(s string) Type {
	if t, ok := tagIndex[s]; ok {
		return t
	}
	return TypeUnknown
}

// Category tags for the satellite collections.
const (
	TagAggregation = "AtonAggregation"
	TagAssociation = "AtonAssociation"
)

// Role is the xlink role of a reference between features.
type Role string

const (
	RoleAggregation Role = "aggregation"
	RoleAssociation Role = "association"
	RoleChild       Role = "child"
	RoleParent      Role = "parent"
)

// Arcrole returns the IALA arc role URN for the role.
func (r Role) Arcrole() string {
	return "urn:IALA:S125:roles:" + string(r)
}

// MarshalText encodes the type as its tag so stored records survive
// reordering of the enumeration.
func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.Tag()), nil
}

func (t *Type) UnmarshalText(b []byte) error {
	*t = ParseType(string(b))
	return nil
}
