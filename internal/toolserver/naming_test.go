package toolserver

import "testing"

func TestPrefixToolNameSanitizesAndJoins(t *testing.T) {
	got := PrefixToolName("My Server!!", "Search--Docs")
	if got != "my_server__search_docs" {
		t.Errorf("unexpected prefixed name: %q", got)
	}
}

func TestPrefixToolNameCollapsesDoubleUnderscoresWithinEachPart(t *testing.T) {
	got := PrefixToolName("a__b", "c")
	if got != "a_b__c" {
		t.Errorf("expected the inner double underscore collapsed before joining, got %q", got)
	}
}

func TestParseToolNameSplitsOnFirstDoubleUnderscore(t *testing.T) {
	server, tool, ok := ParseToolName("weather__get_forecast")
	if !ok || server != "weather" || tool != "get_forecast" {
		t.Errorf("unexpected parse result: server=%q tool=%q ok=%v", server, tool, ok)
	}
}

func TestParseToolNameAllowsDoubleUnderscoreWithinToolPart(t *testing.T) {
	server, tool, ok := ParseToolName("weather__get__forecast")
	if !ok || server != "weather" || tool != "get__forecast" {
		t.Errorf("unexpected parse result: server=%q tool=%q ok=%v", server, tool, ok)
	}
}

func TestParseToolNameRejectsNameWithoutSeparator(t *testing.T) {
	_, _, ok := ParseToolName("no-separator")
	if ok {
		t.Error("expected ok=false for a name without the __ separator")
	}
}

func TestParseToolNameRejectsEmptyParts(t *testing.T) {
	if _, _, ok := ParseToolName("__tool"); ok {
		t.Error("expected ok=false for an empty server part")
	}
	if _, _, ok := ParseToolName("server__"); ok {
		t.Error("expected ok=false for an empty tool part")
	}
}
