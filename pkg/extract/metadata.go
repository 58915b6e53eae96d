package extract

// domainMetadata describes the record types this pipeline produces so
// the receiving side can build its mappings.
func domainMetadata() map[string]interface{} {
	return map[string]interface{}{
		"schema_version": "v0.2.0",
		"record_types": map[string]interface{}{
			string(EntityUsers): map[string]interface{}{
				"name": "User",
				"fields": map[string]interface{}{
					"username":  map[string]interface{}{"type": "text", "is_required": true, "name": "Username"},
					"full_name": map[string]interface{}{"type": "text", "name": "Full Name"},
					"email":     map[string]interface{}{"type": "text", "name": "Email"},
					"avatar":    map[string]interface{}{"type": "text", "name": "Avatar URL"},
					"url":       map[string]interface{}{"type": "text", "name": "Profile URL"},
				},
			},
			string(EntityLabels): map[string]interface{}{
				"name": "Label",
				"fields": map[string]interface{}{
					"name":     map[string]interface{}{"type": "text", "is_required": true, "name": "Name"},
					"color":    map[string]interface{}{"type": "text", "name": "Color"},
					"board_id": map[string]interface{}{"type": "text", "name": "Board"},
				},
			},
			string(EntityCards): map[string]interface{}{
				"name": "Card",
				"fields": map[string]interface{}{
					"title":       map[string]interface{}{"type": "text", "is_required": true, "name": "Title"},
					"description": map[string]interface{}{"type": "rich_text", "name": "Description"},
					"stage":       map[string]interface{}{"type": "text", "name": "Stage"},
					"owned_by":    map[string]interface{}{"type": "reference", "name": "Owners", "reference": map[string]interface{}{"refers_to": string(EntityUsers)}},
					"labels":      map[string]interface{}{"type": "reference", "name": "Labels", "reference": map[string]interface{}{"refers_to": string(EntityLabels)}},
					"due_date":    map[string]interface{}{"type": "timestamp", "name": "Due Date"},
					"closed":      map[string]interface{}{"type": "bool", "name": "Archived"},
					"url":         map[string]interface{}{"type": "text", "name": "URL"},
				},
			},
			string(EntityComments): map[string]interface{}{
				"name": "Comment",
				"fields": map[string]interface{}{
					"body":      map[string]interface{}{"type": "rich_text", "is_required": true, "name": "Body"},
					"parent_id": map[string]interface{}{"type": "reference", "name": "Card", "reference": map[string]interface{}{"refers_to": string(EntityCards)}},
					"author_id": map[string]interface{}{"type": "reference", "name": "Author", "reference": map[string]interface{}{"refers_to": string(EntityUsers)}},
				},
			},
		},
	}
}
