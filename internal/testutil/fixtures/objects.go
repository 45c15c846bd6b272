// Package fixtures provides workspace metadata shared by package tests.
package fixtures

import "crm-graphql/internal/metadata"

// WorkspaceID is a valid workspace uuid used across tests.
const WorkspaceID = "20202020-1c25-4d02-bf25-6aeccf7ea419"

func field(name string, typ metadata.FieldType) metadata.FieldMetadata {
	return metadata.FieldMetadata{ID: "f-" + name, Name: name, Type: typ, IsActive: true, IsNullable: name != "id"}
}

// Person is a standard object with composite, relation and position fields.
func Person() metadata.ObjectMetadata {
	return metadata.ObjectMetadata{
		ID:            "o-person",
		WorkspaceID:   WorkspaceID,
		NameSingular:  "person",
		NamePlural:    "people",
		LabelSingular: "Person",
		IsActive:      true,
		Fields: []metadata.FieldMetadata{
			field("id", metadata.FieldTypeUUID),
			field("name", metadata.FieldTypeFullName),
			field("email", metadata.FieldTypeEmail),
			field("phone", metadata.FieldTypePhone),
			field("linkedinLink", metadata.FieldTypeLink),
			field("position", metadata.FieldTypePosition),
			field("createdAt", metadata.FieldTypeDateTime),
			{
				ID: "f-company", Name: "company", Type: metadata.FieldTypeRelation, IsActive: true, IsNullable: true,
				Relation: &metadata.RelationMetadata{Kind: metadata.RelationManyToOne, TargetObjectNameSingular: "company"},
			},
			{
				ID: "f-attachments", Name: "attachments", Type: metadata.FieldTypeRelation, IsActive: true, IsNullable: true,
				Relation: &metadata.RelationMetadata{Kind: metadata.RelationOneToMany, TargetObjectNameSingular: "attachment"},
			},
		},
	}
}

// Company is a standard object with a currency field.
func Company() metadata.ObjectMetadata {
	return metadata.ObjectMetadata{
		ID:            "o-company",
		WorkspaceID:   WorkspaceID,
		NameSingular:  "company",
		NamePlural:    "companies",
		LabelSingular: "Company",
		IsActive:      true,
		Fields: []metadata.FieldMetadata{
			field("id", metadata.FieldTypeUUID),
			field("name", metadata.FieldTypeText),
			field("domainName", metadata.FieldTypeText),
			field("annualRecurringRevenue", metadata.FieldTypeCurrency),
			field("employees", metadata.FieldTypeNumber),
			{
				ID: "f-people", Name: "people", Type: metadata.FieldTypeRelation, IsActive: true, IsNullable: true,
				Relation: &metadata.RelationMetadata{Kind: metadata.RelationOneToMany, TargetObjectNameSingular: "person"},
			},
		},
	}
}

// Attachment carries files whose fullPath gets signed on read.
func Attachment() metadata.ObjectMetadata {
	return metadata.ObjectMetadata{
		ID:            "o-attachment",
		WorkspaceID:   WorkspaceID,
		NameSingular:  "attachment",
		NamePlural:    "attachments",
		LabelSingular: "Attachment",
		IsActive:      true,
		Fields: []metadata.FieldMetadata{
			field("id", metadata.FieldTypeUUID),
			field("name", metadata.FieldTypeText),
			field("fullPath", metadata.FieldTypeText),
			field("type", metadata.FieldTypeText),
		},
	}
}

// Pet is a custom object, stored in the "_pet" table.
func Pet() metadata.ObjectMetadata {
	return metadata.ObjectMetadata{
		ID:            "o-pet",
		WorkspaceID:   WorkspaceID,
		NameSingular:  "pet",
		NamePlural:    "pets",
		LabelSingular: "Pet",
		IsCustom:      true,
		IsActive:      true,
		Fields: []metadata.FieldMetadata{
			field("id", metadata.FieldTypeUUID),
			field("name", metadata.FieldTypeText),
			field("species", metadata.FieldTypeSelect),
		},
	}
}

// Set bundles every fixture object.
func Set() *metadata.Set {
	return metadata.NewSet(WorkspaceID, []metadata.ObjectMetadata{Person(), Company(), Attachment(), Pet()})
}
