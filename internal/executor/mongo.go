package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/querygate/querygate/internal/domain"
)

// MongoExecutor runs approved document-store commands. Commands use a
// constrained grammar — db.<collection>.<operation>(<args>) — validated
// before anything reaches the driver.
type MongoExecutor struct {
	queryTimeout time.Duration
	logger       *zap.Logger

	mu      sync.Mutex
	clients map[string]*mongo.Client // connection URL -> client
}

// NewMongoExecutor creates a document-store command executor.
func NewMongoExecutor(queryTimeout time.Duration, logger *zap.Logger) *MongoExecutor {
	return &MongoExecutor{
		queryTimeout: queryTimeout,
		logger:       logger,
		clients:      make(map[string]*mongo.Client),
	}
}

var _ Executor = (*MongoExecutor)(nil)

func (e *MongoExecutor) Execute(ctx context.Context, req *domain.ExecutionRequest) (result *domain.ExecutionResult) {
	defer func() {
		if r := recover(); r != nil {
			result = domain.Failed(domain.NormalizeError(r))
		}
	}()

	cmd, err := parseMongoCommand(req.QueryText)
	if err != nil {
		return domain.Failed(err.Error())
	}

	queryCtx, cancel := context.WithTimeout(ctx, e.queryTimeout)
	defer cancel()

	client, err := e.client(queryCtx, req.MongoURL)
	if err != nil {
		return domain.Failed(domain.NormalizeError(err))
	}
	coll := client.Database(req.DatabaseName).Collection(cmd.Collection)

	output, err := cmd.run(queryCtx, coll)
	if err != nil {
		return domain.Failed(domain.NormalizeError(err))
	}
	return domain.Succeeded(output)
}

func (e *MongoExecutor) client(ctx context.Context, url string) (*mongo.Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if c, ok := e.clients[url]; ok {
		return c, nil
	}
	c, err := mongo.Connect(ctx, options.Client().ApplyURI(url))
	if err != nil {
		return nil, fmt.Errorf("connect target mongodb: %w", err)
	}
	e.clients[url] = c
	return c, nil
}

// Close disconnects every target client. Shutdown path.
func (e *MongoExecutor) Close(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for url, c := range e.clients {
		_ = c.Disconnect(ctx)
		delete(e.clients, url)
	}
}

// ──────────────────────────────────────────────────────
// Command grammar
// ──────────────────────────────────────────────────────

// mongoCommand is one parsed db.<collection>.<operation>(<args>) command.
type mongoCommand struct {
	Collection string
	Operation  string
	Args       []string // raw JSON argument texts, split at top level
}

var writeOperationArgs = map[string][]string{
	"insertOne":  {"a document"},
	"updateOne":  {"a filter", "an update document"},
	"updateMany": {"a filter", "an update document"},
	"deleteOne":  {"a filter"},
	"deleteMany": {"a filter"},
}

var readOperations = map[string]bool{
	"find":           true,
	"findOne":        true,
	"aggregate":      true,
	"countDocuments": true,
}

// parseMongoCommand parses and validates a command. Write operations must
// carry their required arguments; read operations default missing arguments
// to an empty filter or pipeline at run time.
func parseMongoCommand(text string) (*mongoCommand, error) {
	s := strings.TrimSpace(text)
	s = strings.TrimSuffix(s, ";")

	if !strings.HasPrefix(s, "db.") {
		return nil, fmt.Errorf("command must start with db.<collection>")
	}
	rest := s[len("db."):]

	dot := strings.Index(rest, ".")
	if dot <= 0 {
		return nil, fmt.Errorf("command must name an operation: db.<collection>.<operation>(...)")
	}
	collection := rest[:dot]
	rest = rest[dot+1:]

	paren := strings.Index(rest, "(")
	if paren <= 0 || !strings.HasSuffix(rest, ")") {
		return nil, fmt.Errorf("operation arguments must be parenthesized")
	}
	operation := rest[:paren]
	argText := rest[paren+1 : len(rest)-1]

	cmd := &mongoCommand{
		Collection: collection,
		Operation:  operation,
		Args:       splitTopLevelArgs(argText),
	}

	if required, ok := writeOperationArgs[operation]; ok {
		for i, what := range required {
			if len(cmd.Args) <= i || strings.TrimSpace(cmd.Args[i]) == "" {
				return nil, fmt.Errorf("%s requires %s", operation, what)
			}
		}
		return cmd, nil
	}
	if readOperations[operation] {
		return cmd, nil
	}
	return nil, fmt.Errorf("unsupported operation: %s", operation)
}

// splitTopLevelArgs splits a JSON argument list on commas outside of any
// object, array, or string literal.
func splitTopLevelArgs(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	var args []string
	depth := 0
	inString := false
	var quote byte
	start := 0

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			if c == '\\' {
				i++
			} else if c == quote {
				inString = false
			}
			continue
		}
		switch c {
		case '"', '\'':
			inString = true
			quote = c
		case '{', '[', '(':
			depth++
		case '}', ']', ')':
			depth--
		case ',':
			if depth == 0 {
				args = append(args, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	args = append(args, strings.TrimSpace(s[start:]))
	return args
}

func (c *mongoCommand) arg(i int) string {
	if len(c.Args) > i {
		return c.Args[i]
	}
	return ""
}

// decodeDoc parses one argument as an extended-JSON document, defaulting to
// an empty document when absent.
func decodeDoc(raw string) (bson.D, error) {
	if strings.TrimSpace(raw) == "" {
		return bson.D{}, nil
	}
	var doc bson.D
	if err := bson.UnmarshalExtJSON([]byte(raw), false, &doc); err != nil {
		return nil, fmt.Errorf("invalid document %q: %w", raw, err)
	}
	return doc, nil
}

// decodePipeline parses one argument as an aggregation pipeline, defaulting
// to an empty pipeline when absent.
func decodePipeline(raw string) (bson.A, error) {
	if strings.TrimSpace(raw) == "" {
		return bson.A{}, nil
	}
	var pipeline bson.A
	if err := bson.UnmarshalExtJSON([]byte(raw), false, &pipeline); err != nil {
		return nil, fmt.Errorf("invalid pipeline %q: %w", raw, err)
	}
	return pipeline, nil
}

func (c *mongoCommand) run(ctx context.Context, coll *mongo.Collection) (string, error) {
	switch c.Operation {
	case "find":
		filter, err := decodeDoc(c.arg(0))
		if err != nil {
			return "", err
		}
		cursor, err := coll.Find(ctx, filter)
		if err != nil {
			return "", err
		}
		return renderCursor(ctx, cursor)

	case "findOne":
		filter, err := decodeDoc(c.arg(0))
		if err != nil {
			return "", err
		}
		var doc bson.D
		err = coll.FindOne(ctx, filter).Decode(&doc)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "null", nil
		}
		if err != nil {
			return "", err
		}
		return renderDoc(doc)

	case "aggregate":
		pipeline, err := decodePipeline(c.arg(0))
		if err != nil {
			return "", err
		}
		cursor, err := coll.Aggregate(ctx, pipeline)
		if err != nil {
			return "", err
		}
		return renderCursor(ctx, cursor)

	case "countDocuments":
		filter, err := decodeDoc(c.arg(0))
		if err != nil {
			return "", err
		}
		n, err := coll.CountDocuments(ctx, filter)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d", n), nil

	case "insertOne":
		doc, err := decodeDoc(c.arg(0))
		if err != nil {
			return "", err
		}
		res, err := coll.InsertOne(ctx, doc)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Inserted 1 document (_id: %v)", res.InsertedID), nil

	case "updateOne", "updateMany":
		filter, err := decodeDoc(c.arg(0))
		if err != nil {
			return "", err
		}
		update, err := decodeDoc(c.arg(1))
		if err != nil {
			return "", err
		}
		var res *mongo.UpdateResult
		if c.Operation == "updateOne" {
			res, err = coll.UpdateOne(ctx, filter, update)
		} else {
			res, err = coll.UpdateMany(ctx, filter, update)
		}
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Matched %d, modified %d", res.MatchedCount, res.ModifiedCount), nil

	case "deleteOne", "deleteMany":
		filter, err := decodeDoc(c.arg(0))
		if err != nil {
			return "", err
		}
		var n int64
		if c.Operation == "deleteOne" {
			res, err := coll.DeleteOne(ctx, filter)
			if err != nil {
				return "", err
			}
			n = res.DeletedCount
		} else {
			res, err := coll.DeleteMany(ctx, filter)
			if err != nil {
				return "", err
			}
			n = res.DeletedCount
		}
		return fmt.Sprintf("Deleted %d documents", n), nil
	}
	return "", fmt.Errorf("unsupported operation: %s", c.Operation)
}

func renderCursor(ctx context.Context, cursor *mongo.Cursor) (string, error) {
	defer cursor.Close(ctx)

	var docs []string
	for cursor.Next(ctx) {
		var doc bson.D
		if err := cursor.Decode(&doc); err != nil {
			return "", err
		}
		rendered, err := renderDoc(doc)
		if err != nil {
			return "", err
		}
		docs = append(docs, rendered)
	}
	if err := cursor.Err(); err != nil {
		return "", err
	}
	return "[" + strings.Join(docs, ",\n") + "]", nil
}

func renderDoc(doc bson.D) (string, error) {
	out, err := bson.MarshalExtJSON(doc, false, false)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
