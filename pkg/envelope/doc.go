// Package envelope defines the single message structure exchanged between the
// hub and its peers (clients and worker services), shared by both binaries.
//
// Every message is one JSON object:
//
//	{
//	  "message_type": "JoinGroup",
//	  "id":           3,
//	  "strings":      null,
//	  "groups":       null
//	}
//
// message_type is a closed set (see Type). Absent optional fields are written
// as null, and both null and missing are accepted on decode.
package envelope
