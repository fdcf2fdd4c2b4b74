// internal/vision/prompts.go
package vision

// Shape is the reply format the model is asked for.
type Shape int

const (
	// ShapeObject asks for one JSON object describing the main food.
	ShapeObject Shape = iota
	// ShapeTable asks for one pipe-delimited line per food plus a TOTAL line.
	ShapeTable
)

func (s Shape) String() string {
	switch s {
	case ShapeObject:
		return "object"
	case ShapeTable:
		return "table"
	}
	return "unknown"
}

const objectInstruction = `You are a nutrition expert. Identify the main food in the photo and estimate its nutrition.

IMPORTANT: Respond with exactly one JSON object and nothing else, in this format:
{"food": "food name", "serving": "estimated serving with units, e.g. 150 g", "calories": 0, "protein": 0, "carbs": 0, "fat": 0}

calories is in kcal; protein, carbs and fat are in grams. Use whole numbers.`

const tableInstruction = `You are a nutrition expert. Identify every food in the photo and estimate its nutrition.

IMPORTANT: Respond with one line per food in exactly this format, with no header and no extra text:
food | serving | calories | protein | carbs | fat

Serving includes units (for example 150 g or 330 ml). Calories are kcal; protein, carbs and fat are grams. Use whole numbers.
Finish with one line that starts with TOTAL and sums every column:
TOTAL | total serving | calories | protein | carbs | fat`

func instructionFor(s Shape) string {
	if s == ShapeTable {
		return tableInstruction
	}
	return objectInstruction
}
