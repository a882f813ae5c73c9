package traffic

import (
	"fmt"
	"image/color"

	"github.com/ByteArena/box2d"
	"github.com/fogleman/gg"
)

// Scale is the number of pixels per metre in rendered frames
const Scale float64 = 12.0

var (
	roadColour   = color.RGBA{R: 60, G: 60, B: 66, A: 255}
	laneColour   = color.RGBA{R: 230, G: 230, B: 230, A: 255}
	vehicleColor = color.RGBA{R: 128, G: 102, B: 230, A: 255}
	goalColour   = color.RGBA{R: 255, G: 166, B: 0, A: 255}
)

func worldToPixelCoord(x, y, height float64) (float64, float64) {
	return Scale * x, height - Scale*y
}

// Render draws world world as a PNG image to filename. Goals are drawn
// as circles in the colour of their lane marker.
func (t *Traffic) Render(world int, filename string) error {
	if world < 0 || world >= len(t.worlds) {
		return fmt.Errorf("render: world %v out of range [0, %v)", world,
			len(t.worlds))
	}
	w := t.worlds[world]

	width := Scale * t.cfg.RoadLength
	height := Scale * t.cfg.RoadWidth()
	dc := gg.NewContext(int(width), int(height))
	dc.SetColor(roadColour)
	dc.Clear()

	// Lane markers
	dc.SetColor(laneColour)
	dc.SetLineWidth(1.0)
	dc.SetDash(8, 8)
	for lane := 1; lane < t.cfg.MaxAgents; lane++ {
		_, y := worldToPixelCoord(0, float64(lane)*t.cfg.LaneWidth, height)
		dc.DrawLine(0, y, width, y)
		dc.Stroke()
	}
	dc.SetDash()

	for _, v := range w.vehicles {
		if !v.active {
			continue
		}

		gx, gy := worldToPixelCoord(v.goal.X, v.goal.Y, height)
		dc.SetColor(goalColour)
		dc.DrawCircle(gx, gy, Scale*t.cfg.GoalRadius/2)
		dc.Stroke()

		fix := v.body.GetFixtureList()
		for fix != nil {
			shape := fix.M_shape.(*box2d.B2PolygonShape)
			dc.ClearPath()
			for i := 0; i < shape.M_count; i++ {
				vertex := box2d.B2TransformVec2Mul(fix.M_body.M_xf,
					shape.M_vertices[i])
				x, y := worldToPixelCoord(vertex.X, vertex.Y, height)
				dc.LineTo(x, y)
			}
			dc.ClosePath()
			dc.SetColor(vehicleColor)
			dc.Fill()
			fix = fix.M_next
		}
	}

	if err := dc.SavePNG(filename); err != nil {
		return fmt.Errorf("render: %v", err)
	}
	return nil
}
