package terminology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractContainsNested(t *testing.T) {
	out := map[string]Concept{}
	items := []interface{}{
		map[string]interface{}{
			"system": "http://sys", "code": "a", "display": "A",
			"contains": []interface{}{
				map[string]interface{}{"system": "http://sys", "code": "b", "display": "B"},
			},
		},
	}
	extractContains(items, out)
	require.Len(t, out, 2)
	assert.Equal(t, "A", out["http://sys|a"].Display)
	assert.Equal(t, "B", out["http://sys|b"].Display)
}

func TestBuildParentMapAndIsAncestor(t *testing.T) {
	concepts := []interface{}{
		map[string]interface{}{
			"code": "root",
			"concept": []interface{}{
				map[string]interface{}{"code": "child"},
			},
		},
	}
	parents := map[string][]string{}
	buildParentMap(concepts, "", parents)
	assert.True(t, isAncestor(parents, "root", "child"))
	assert.False(t, isAncestor(parents, "child", "root"))
}

func TestFindConceptRecursive(t *testing.T) {
	concepts := []interface{}{
		map[string]interface{}{"code": "a"},
		map[string]interface{}{
			"code": "b",
			"concept": []interface{}{
				map[string]interface{}{"code": "c", "display": "See"},
			},
		},
	}
	found := findConceptRecursive(concepts, "c")
	require.NotNil(t, found)
	assert.Equal(t, "See", found["display"])
}

func TestTranslateWithMapForward(t *testing.T) {
	cm := map[string]interface{}{
		"group": []interface{}{
			map[string]interface{}{
				"source": "http://src", "target": "http://tgt",
				"element": []interface{}{
					map[string]interface{}{
						"code": "a",
						"target": []interface{}{
							map[string]interface{}{"code": "x", "equivalence": "equivalent"},
						},
					},
				},
			},
		},
	}
	matches := translateWithMap(cm, "http://src", "a", false)
	require.Len(t, matches, 1)
	assert.Equal(t, "x", matches[0].Code)
	assert.Equal(t, "equivalent", matches[0].Equivalence)
}

func TestTranslateWithMapReverse(t *testing.T) {
	cm := map[string]interface{}{
		"group": []interface{}{
			map[string]interface{}{
				"source": "http://src", "target": "http://tgt",
				"element": []interface{}{
					map[string]interface{}{
						"code": "a",
						"target": []interface{}{
							map[string]interface{}{"code": "x", "equivalence": "equivalent"},
						},
					},
				},
			},
		},
	}
	matches := translateWithMap(cm, "http://tgt", "x", true)
	require.Len(t, matches, 1)
	assert.Equal(t, "a", matches[0].Code)
	assert.Equal(t, "http://src", matches[0].System)
}
