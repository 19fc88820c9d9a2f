package mcp

import (
	"fmt"
	"math/rand"
	"strings"
)

// Pokemon is one entry of the fixed demo table.
type Pokemon struct {
	Name  string   `json:"name"`
	Types []string `json:"types"`
}

var pokedex = []Pokemon{
	{Name: "Pikachu", Types: []string{"electric"}},
	{Name: "Charizard", Types: []string{"fire", "flying"}},
	{Name: "Gyarados", Types: []string{"water", "flying"}},
	{Name: "Landorus-Therian", Types: []string{"ground", "flying"}},
	{Name: "Incineroar", Types: []string{"fire", "dark"}},
	{Name: "Amoonguss", Types: []string{"grass", "poison"}},
	{Name: "Iron Hands", Types: []string{"fighting", "electric"}},
}

func toolEcho(args map[string]any) ToolResult {
	return textResult(argString(args, "text"), nil)
}

// toolRandomPokemon picks uniformly among entries matching the optional type
// filter (case-insensitive substring). An empty pool is a soft failure: the
// result is an explanatory text, not an error, matching how every other tool
// reports "no results".
func toolRandomPokemon(args map[string]any, intn func(int) int) ToolResult {
	filter := strings.ToLower(argString(args, "type_filter"))

	pool := make([]Pokemon, 0, len(pokedex))
	for _, p := range pokedex {
		if filter == "" {
			pool = append(pool, p)
			continue
		}
		for _, t := range p.Types {
			if strings.Contains(t, filter) {
				pool = append(pool, p)
				break
			}
		}
	}

	if len(pool) == 0 {
		return textResult("No match for that type.", nil)
	}

	pick := pool[intn(len(pool))]
	text := fmt.Sprintf("Drawn: %s (%s)", pick.Name, strings.Join(pick.Types, "/"))
	return textResult(text, pick)
}

func defaultIntn(n int) int { return rand.Intn(n) }
