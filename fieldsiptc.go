// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package jp2meta

const (
	iptcFormatString = "string"
	iptcFormatByte   = "B"
	iptcFormatShort  = "short"
)

var iptcRecordNames = map[uint8]string{
	1: "IPTCEnvelope",
	2: "IPTCApplication",
	3: "IPTCNewsPhoto",
	7: "IPTCPreObjectData",
	8: "IPTCObjectData",
	9: "IPTCPostObjectData",
}

var iptcRecordFields = map[uint8]map[uint8]iptcField{
	1: {
		0:   {"EnvelopeRecordVersion", false, iptcFormatShort},
		5:   {"Destination", true, iptcFormatString},
		20:  {"FileFormat", false, iptcFormatShort},
		22:  {"FileVersion", false, iptcFormatShort},
		30:  {"ServiceIdentifier", false, iptcFormatString},
		40:  {"EnvelopeNumber", false, iptcFormatString},
		50:  {"ProductID", true, iptcFormatString},
		60:  {"EnvelopePriority", false, iptcFormatString},
		70:  {"DateSent", false, iptcFormatString},
		80:  {"TimeSent", false, iptcFormatString},
		90:  {"CodedCharacterSet", false, iptcFormatString},
		100: {"UniqueObjectName", false, iptcFormatString},
	},
	2: {
		0:   {"ApplicationRecordVersion", false, iptcFormatShort},
		5:   {"ObjectName", false, iptcFormatString},
		7:   {"EditStatus", false, iptcFormatString},
		10:  {"Urgency", false, iptcFormatByte},
		15:  {"Category", false, iptcFormatString},
		20:  {"SupplementalCategories", true, iptcFormatString},
		22:  {"FixtureIdentifier", false, iptcFormatString},
		25:  {"Keywords", true, iptcFormatString},
		26:  {"ContentLocationCode", true, iptcFormatString},
		27:  {"ContentLocationName", true, iptcFormatString},
		30:  {"ReleaseDate", false, iptcFormatString},
		35:  {"ReleaseTime", false, iptcFormatString},
		37:  {"ExpirationDate", false, iptcFormatString},
		38:  {"ExpirationTime", false, iptcFormatString},
		40:  {"SpecialInstructions", false, iptcFormatString},
		42:  {"ActionAdvised", false, iptcFormatString},
		45:  {"ReferenceService", true, iptcFormatString},
		47:  {"ReferenceDate", true, iptcFormatString},
		50:  {"ReferenceNumber", true, iptcFormatString},
		55:  {"DateCreated", false, iptcFormatString},
		60:  {"TimeCreated", false, iptcFormatString},
		62:  {"DigitalCreationDate", false, iptcFormatString},
		63:  {"DigitalCreationTime", false, iptcFormatString},
		65:  {"OriginatingProgram", false, iptcFormatString},
		70:  {"ProgramVersion", false, iptcFormatString},
		75:  {"ObjectCycle", false, iptcFormatString},
		80:  {"By-line", true, iptcFormatString},
		85:  {"By-lineTitle", true, iptcFormatString},
		90:  {"City", false, iptcFormatString},
		92:  {"Sub-location", false, iptcFormatString},
		95:  {"Province-State", false, iptcFormatString},
		100: {"Country-PrimaryLocationCode", false, iptcFormatString},
		101: {"Country-PrimaryLocationName", false, iptcFormatString},
		103: {"OriginalTransmissionReference", false, iptcFormatString},
		105: {"Headline", false, iptcFormatString},
		110: {"Credit", false, iptcFormatString},
		115: {"Source", false, iptcFormatString},
		116: {"CopyrightNotice", false, iptcFormatString},
		118: {"Contact", true, iptcFormatString},
		120: {"Caption-Abstract", false, iptcFormatString},
		122: {"Writer-Editor", true, iptcFormatString},
		130: {"ImageType", false, iptcFormatString},
		131: {"ImageOrientation", false, iptcFormatString},
		135: {"LanguageIdentifier", false, iptcFormatString},
	},
}

type iptcField struct {
	name       string
	repeatable bool
	format     string
}
