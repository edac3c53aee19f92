package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bt "github.com/tempograph/bitemporal"
	"github.com/tempograph/bitemporal/memory"
)

var (
	shortForm = "2006-01-02" // simple time format

	oneYAgo = mustParseTime(shortForm, "2019-01-01")
	dec30   = mustParseTime(shortForm, "2021-12-30")
	jan1    = mustParseTime(shortForm, "2022-01-01")
	jan3    = mustParseTime(shortForm, "2022-01-03")
)

func main() {
	ctx := context.Background()

	// We compose an Engine over a fresh in-memory backend and start using it
	// like an ordinary versioned graph store.
	engine := bt.NewEngine(memory.New(), bt.NewConfig(), nil)

	alice := bt.NewEntityID(bt.PersonEntity, "alice")
	bob := bt.NewEntityID(bt.PersonEntity, "bob")

	alicePayload, err := bt.NewNodePayload(bt.NodePayload{
		ID: "alice", EntityType: bt.PersonEntity, Label: "Alice",
		Properties: bt.Attributes{"balance": 1},
	})
	panicIfErr(err)
	_, err = engine.Store(ctx, alice, alicePayload, bt.NewOpenEndRange(time.Now()))
	panicIfErr(err)

	bobPayload, err := bt.NewNodePayload(bt.NodePayload{
		ID: "bob", EntityType: bt.PersonEntity, Label: "Bob",
		Properties: bt.Attributes{"balance": 100},
	})
	panicIfErr(err)
	bobRecord, err := engine.Store(ctx, bob, bobPayload, bt.NewOpenEndRange(oneYAgo))
	panicIfErr(err)

	latest, err := engine.QueryLatest(ctx, bob)
	panicIfErr(err)
	fmt.Println(toJSON(latest))

	// We later learn that Bob had a temporary pending charge we missed from
	// Dec 30 to Jan 3. Retroactively record it: the open-ended version is
	// superseded and replaced by three versions (before, during, and after
	// the charge). This does not change his current balance, nor does it
	// destroy any history we had of that period, since prior versions are
	// never deleted, only superseded.
	pendingPayload, err := bt.NewNodePayload(bt.NodePayload{
		ID: "bob", EntityType: bt.PersonEntity, Label: "Bob",
		Properties: bt.Attributes{"balance": 90},
	})
	panicIfErr(err)
	panicIfErr(engine.Supersede(ctx, bob, bobRecord.VersionID))
	_, err = engine.Store(ctx, bob, bobPayload, bt.NewRange(oneYAgo, dec30))
	panicIfErr(err)
	_, err = engine.Store(ctx, bob, pendingPayload, bt.NewRange(dec30, jan3))
	panicIfErr(err)
	_, err = engine.Store(ctx, bob, bobPayload, bt.NewOpenEndRange(jan3))
	panicIfErr(err)

	// We can seamlessly ask questions about the real-world past: "What was
	// Bob's balance on Jan 1, as best we now know?"
	asOfJan1, err := engine.QueryAt(ctx, bob, jan1)
	panicIfErr(err)
	fmt.Println(toJSON(asOfJan1))

	// And we can double check the full history of known states for Bob.
	evolution, err := engine.QueryEvolution(ctx, bob, bt.Unbounded())
	panicIfErr(err)
	fmt.Println(toJSON(evolution))

	result := engine.ValidateConsistency(ctx)
	fmt.Println(toJSON(result))
}

func mustParseTime(layout, value string) time.Time {
	t, err := time.Parse(layout, value)
	if err != nil {
		panic(err)
	}
	return t
}

func panicIfErr(err error) {
	if err != nil {
		panic(err)
	}
}

func toJSON(v interface{}) string {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		panic(err)
	}
	return string(out)
}
