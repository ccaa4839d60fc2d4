package mongo

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/wuild-project/wuild/runtime/model"
	"github.com/wuild-project/wuild/runtime/sessionstore"
)

var (
	testMongoClient    *mongo.Client
	testMongoContainer testcontainers.Container
	skipMongoTests     bool
)

func setupMongoDB() {
	ctx := context.Background()

	var containerErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				containerErr = fmt.Errorf("docker not available: %v", r)
			}
		}()
		req := testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForLog("Waiting for connections"),
			Tmpfs:        map[string]string{"/data/db": "rw"},
		}
		testMongoContainer, containerErr = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
	}()

	if containerErr != nil {
		fmt.Printf("Docker not available, MongoDB tests will be skipped: %v\n", containerErr)
		skipMongoTests = true
		return
	}

	host, err := testMongoContainer.Host(ctx)
	if err != nil {
		skipMongoTests = true
		return
	}
	port, err := testMongoContainer.MappedPort(ctx, "27017")
	if err != nil {
		skipMongoTests = true
		return
	}

	uri := fmt.Sprintf("mongodb://%s:%s", host, port.Port())
	testMongoClient, err = mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		skipMongoTests = true
		return
	}
	if err := testMongoClient.Ping(ctx, nil); err != nil {
		skipMongoTests = true
		return
	}
}

func getMongoStore(t *testing.T) *Store {
	t.Helper()
	if skipMongoTests {
		t.Skip("Docker not available, skipping MongoDB test")
	}
	collection := testMongoClient.Database("wuild_test").Collection(t.Name())
	if err := collection.Drop(context.Background()); err != nil {
		t.Fatalf("failed to drop collection: %v", err)
	}
	return New(collection)
}

func ensureMongo() {
	if testMongoClient == nil && !skipMongoTests {
		setupMongoDB()
	}
}

// TestMongoPersistenceRoundTrip verifies session records persist across
// store recreation against the same collection.
func TestMongoPersistenceRoundTrip(t *testing.T) {
	ensureMongo()
	if skipMongoTests {
		t.Skip("Docker not available, skipping MongoDB test")
	}

	collection := testMongoClient.Database("wuild_test").Collection(t.Name())
	ctx := context.Background()
	defer func() { _ = collection.Drop(ctx) }()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("sessions persist across store recreation", prop.ForAll(
		func(recs []sessionstore.Record) bool {
			if err := collection.Drop(ctx); err != nil {
				return false
			}
			store1 := New(collection)
			for _, rec := range recs {
				if err := store1.SaveSession(ctx, rec); err != nil {
					return false
				}
			}
			store2 := New(collection)
			for _, original := range recs {
				got, err := store2.GetSession(ctx, original.SessionId)
				if err != nil {
					return false
				}
				if got != original {
					return false
				}
			}
			return true
		},
		genRecordSlice(),
	))

	properties.TestingRun(t)
}

func TestMongoStoreGetNotFound(t *testing.T) {
	ensureMongo()
	st := getMongoStore(t)
	_, err := st.GetSession(context.Background(), 999)
	if err == nil {
		t.Fatal("expected error for missing session")
	}
}

func genRecord() gopter.Gen {
	return gopter.CombineGens(
		gen.Int64Range(0, 1<<40),
		gen.OneConstOf("client-a", "client-b", "client-c"),
		gen.UInt32Range(0, 1000),
		gen.UInt32Range(0, 1000),
	).Map(func(vals []any) sessionstore.Record {
		sid := vals[0].(int64)
		clientId := vals[1].(string)
		tasks := vals[2].(uint32)
		failures := vals[3].(uint32)
		return sessionstore.Record{
			SessionId: sid,
			ClientId:  clientId,
			StartedAt: time.Unix(0, 0).UTC(),
			EndedAt:   time.Unix(1, 0).UTC(),
			Info: model.ToolServerSessionInfo{
				ClientId:      clientId,
				SessionId:     sid,
				TasksCount:    tasks,
				FailuresCount: failures,
			},
		}
	})
}

func genRecordSlice() gopter.Gen {
	return gen.SliceOfN(5, genRecord()).Map(func(recs []sessionstore.Record) []sessionstore.Record {
		seen := make(map[int64]bool)
		result := make([]sessionstore.Record, 0, len(recs))
		for i, r := range recs {
			if seen[r.SessionId] {
				r.SessionId += int64(i) + 1
			}
			seen[r.SessionId] = true
			result = append(result, r)
		}
		return result
	})
}
