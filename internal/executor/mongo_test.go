package executor

import (
	"reflect"
	"strings"
	"testing"
)

func TestParseMongoCommand_ReadOperations(t *testing.T) {
	cases := []struct {
		name       string
		text       string
		collection string
		operation  string
		args       []string
	}{
		{
			name:       "find_with_filter",
			text:       `db.users.find({"active": true})`,
			collection: "users",
			operation:  "find",
			args:       []string{`{"active": true}`},
		},
		{
			name:       "find_without_filter",
			text:       `db.users.find()`,
			collection: "users",
			operation:  "find",
			args:       nil,
		},
		{
			name:       "find_trailing_semicolon",
			text:       `db.orders.findOne({"_id": "abc"});`,
			collection: "orders",
			operation:  "findOne",
			args:       []string{`{"_id": "abc"}`},
		},
		{
			name:       "aggregate_pipeline",
			text:       `db.events.aggregate([{"$match": {"kind": "login"}}, {"$count": "n"}])`,
			collection: "events",
			operation:  "aggregate",
			args:       []string{`[{"$match": {"kind": "login"}}, {"$count": "n"}]`},
		},
		{
			name:       "count_empty",
			text:       `db.sessions.countDocuments()`,
			collection: "sessions",
			operation:  "countDocuments",
			args:       nil,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cmd, err := parseMongoCommand(tc.text)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if cmd.Collection != tc.collection {
				t.Errorf("collection = %q, want %q", cmd.Collection, tc.collection)
			}
			if cmd.Operation != tc.operation {
				t.Errorf("operation = %q, want %q", cmd.Operation, tc.operation)
			}
			if !reflect.DeepEqual(cmd.Args, tc.args) {
				t.Errorf("args = %#v, want %#v", cmd.Args, tc.args)
			}
		})
	}
}

func TestParseMongoCommand_WriteOperationsRequireArgs(t *testing.T) {
	cases := []struct {
		name    string
		text    string
		wantErr string
	}{
		{
			name:    "insertOne_missing_document",
			text:    `db.users.insertOne()`,
			wantErr: "insertOne requires a document",
		},
		{
			name:    "updateOne_missing_filter",
			text:    `db.users.updateOne()`,
			wantErr: "updateOne requires a filter",
		},
		{
			name:    "updateOne_missing_update",
			text:    `db.users.updateOne({"_id": "abc"})`,
			wantErr: "updateOne requires an update document",
		},
		{
			name:    "updateMany_missing_update",
			text:    `db.users.updateMany({"active": false})`,
			wantErr: "updateMany requires an update document",
		},
		{
			name:    "deleteOne_missing_filter",
			text:    `db.users.deleteOne()`,
			wantErr: "deleteOne requires a filter",
		},
		{
			name:    "deleteMany_missing_filter",
			text:    `db.users.deleteMany( )`,
			wantErr: "deleteMany requires a filter",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseMongoCommand(tc.text)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if err.Error() != tc.wantErr {
				t.Errorf("error = %q, want %q", err.Error(), tc.wantErr)
			}
		})
	}
}

func TestParseMongoCommand_WriteOperationWithArgs(t *testing.T) {
	cmd, err := parseMongoCommand(`db.users.updateOne({"_id": "abc"}, {"$set": {"active": false}})`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []string{`{"_id": "abc"}`, `{"$set": {"active": false}}`}
	if !reflect.DeepEqual(cmd.Args, want) {
		t.Errorf("args = %#v, want %#v", cmd.Args, want)
	}
}

func TestParseMongoCommand_Rejects(t *testing.T) {
	cases := []struct {
		name    string
		text    string
		wantErr string
	}{
		{
			name:    "no_db_prefix",
			text:    `users.find({})`,
			wantErr: "must start with db.",
		},
		{
			name:    "no_operation",
			text:    `db.users`,
			wantErr: "must name an operation",
		},
		{
			name:    "unparenthesized",
			text:    `db.users.find`,
			wantErr: "parenthesized",
		},
		{
			name:    "unsupported_operation",
			text:    `db.users.drop()`,
			wantErr: "unsupported operation: drop",
		},
		{
			name:    "unsupported_admin",
			text:    `db.users.createIndex({"email": 1})`,
			wantErr: "unsupported operation: createIndex",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseMongoCommand(tc.text)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error = %q, want substring %q", err.Error(), tc.wantErr)
			}
		})
	}
}

func TestSplitTopLevelArgs(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want []string
	}{
		{
			name: "empty",
			in:   "",
			want: nil,
		},
		{
			name: "single_doc",
			in:   `{"a": 1}`,
			want: []string{`{"a": 1}`},
		},
		{
			name: "comma_inside_object",
			in:   `{"a": 1, "b": 2}`,
			want: []string{`{"a": 1, "b": 2}`},
		},
		{
			name: "two_docs",
			in:   `{"a": 1}, {"b": 2}`,
			want: []string{`{"a": 1}`, `{"b": 2}`},
		},
		{
			name: "comma_inside_array",
			in:   `[{"$match": {}}, {"$limit": 5}]`,
			want: []string{`[{"$match": {}}, {"$limit": 5}]`},
		},
		{
			name: "comma_inside_string",
			in:   `{"name": "a, b"}, {"x": 1}`,
			want: []string{`{"name": "a, b"}`, `{"x": 1}`},
		},
		{
			name: "escaped_quote_in_string",
			in:   `{"name": "a\"b, c"}, {"x": 1}`,
			want: []string{`{"name": "a\"b, c"}`, `{"x": 1}`},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := splitTopLevelArgs(tc.in)
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("splitTopLevelArgs(%q) = %#v, want %#v", tc.in, got, tc.want)
			}
		})
	}
}

func TestDecodeDoc(t *testing.T) {
	doc, err := decodeDoc(`{"active": true}`)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(doc) != 1 || doc[0].Key != "active" {
		t.Errorf("unexpected doc: %#v", doc)
	}

	empty, err := decodeDoc("  ")
	if err != nil {
		t.Fatalf("decode empty: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("blank argument should decode to empty filter, got %#v", empty)
	}

	if _, err := decodeDoc(`{"broken`); err == nil {
		t.Error("expected error for malformed document")
	}
}

func TestDecodePipeline(t *testing.T) {
	pipeline, err := decodePipeline(`[{"$match": {"a": 1}}, {"$limit": 2}]`)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(pipeline) != 2 {
		t.Errorf("expected 2 stages, got %d", len(pipeline))
	}

	empty, err := decodePipeline("")
	if err != nil {
		t.Fatalf("decode empty: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("blank argument should decode to empty pipeline, got %#v", empty)
	}
}
