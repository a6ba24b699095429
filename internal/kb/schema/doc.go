// Package schema defines the knowledge-base document stored locally and in the
// remote blob.
//
// # Overview
//
// The document is a forest of categories. Categories hold ordered children;
// technologies are leaves that carry a checklist, rich-text content, media and
// cross-links to other technologies:
//
//	{
//	  "categories": [
//	    {
//	      "id": "cat_1f0c...",
//	      "name": "Languages",
//	      "type": "category",
//	      "children": [
//	        {
//	          "id": "tech_9a41...",
//	          "name": "Go",
//	          "type": "technology",
//	          "completed": false,
//	          "checklist": [{"text": "learn syntax", "completed": true}]
//	        }
//	      ]
//	    }
//	  ]
//	}
//
// # Node kinds
//
// Node is a tagged union over Kind. Code that branches on the kind should
// switch over Node.Kind() with both arms present:
//
//	switch n.Kind() {
//	case schema.KindCategory:
//	    ...
//	case schema.KindTechnology:
//	    ...
//	default:
//	    return fmt.Errorf("unknown kind %q", n.Type)
//	}
//
// # Identity
//
// Node ids are stable and unique across the whole document. Checklist items
// have no id; two items are the same item when their text is equal, so a
// renamed item reads as a delete plus an add.
//
// # Encoding
//
//   - Encode: compact JSON, used for the local snapshot
//   - EncodeIndent: two-space indented JSON, used for the remote blob and exports
//   - Decode: never panics; malformed input yields ErrMalformed
package schema
