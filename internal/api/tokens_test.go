package api

import (
	"testing"

	"github.com/choosenname/bel-20-indexer/internal/tokenstore"
)

func TestSortTokens_DeployTime(t *testing.T) {
	tokens := []tokenstore.TokenMeta{
		{Tick: "aaa", Created: 300},
		{Tick: "bbb", Created: 100},
		{Tick: "ccc", Created: 200},
	}

	sortTokens(tokens, "deploy_time_asc")
	gotAsc := []string{string(tokens[0].Tick), string(tokens[1].Tick), string(tokens[2].Tick)}
	wantAsc := []string{"bbb", "ccc", "aaa"}
	for i := range wantAsc {
		if gotAsc[i] != wantAsc[i] {
			t.Fatalf("deploy_time_asc = %v, want %v", gotAsc, wantAsc)
		}
	}

	sortTokens(tokens, "deploy_time_desc")
	gotDesc := []string{string(tokens[0].Tick), string(tokens[1].Tick), string(tokens[2].Tick)}
	wantDesc := []string{"aaa", "ccc", "bbb"}
	for i := range wantDesc {
		if gotDesc[i] != wantDesc[i] {
			t.Fatalf("deploy_time_desc = %v, want %v", gotDesc, wantDesc)
		}
	}
}
