// 包 geo：扫描覆盖六边形的包围盒与成员判定，纯函数，仅用于规划扫描覆盖
package geo

import (
	"math"

	"github.com/paulmach/orb"
)

// EarthRadiusKm：六边形换算使用的地球半径
const EarthRadiusKm = 6378.1

// HexBox：六边形外接矩形与其水平/垂直半径（km）
type HexBox struct {
	Bound orb.Bound
	HDist float64
	VDist float64
}

// SpawnTime：候选刷新点及其小时内秒偏移
type SpawnTime struct {
	SpawnpointID string
	Point        orb.Point
	Time         int
}

func degrees(rad float64) float64 { return rad * 180 / math.Pi }

func radians(deg float64) float64 { return deg * math.Pi / 180 }

// HexBoundingBox：按步数推算六边形覆盖范围
// 背景：水平半径 steps*120-50 米，垂直半径 steps*105-35 米，小角度近似换算为经纬度偏移
func HexBoundingBox(center orb.Point, steps int) HexBox {
	hdist := (float64(steps)*120.0 - 50.0) / 1000.0
	vdist := (float64(steps)*105.0 - 35.0) / 1000.0
	lat, lng := center.Lat(), center.Lon()
	vang := degrees(vdist / EarthRadiusKm)
	hang := degrees(hdist / (EarthRadiusKm * math.Cos(radians(lat))))
	return HexBox{
		Bound: orb.Bound{
			Min: orb.Point{lng - hang, lat - vang},
			Max: orb.Point{lng + hang, lat + vang},
		},
		HDist: hdist,
		VDist: vdist,
	}
}

// Offset：点相对中心的偏移（km），返回 (南北, 东西)
func Offset(center, p orb.Point, r float64) (float64, float64) {
	dLat := radians(p.Lat()-center.Lat()) * r
	dLng := radians(p.Lon()-center.Lon()) * (r * math.Cos(radians(center.Lat())))
	return dLat, dLng
}

// InHex：对四条对角边做半平面判定，恰好落在边上视为命中
func InHex(dLat, dLng, hdist float64) bool {
	if dLng+dLat*0.5 > hdist { // ne
		return false
	}
	if dLng-dLat*0.5 > hdist { // se
		return false
	}
	if dLat*0.5-dLng > hdist { // nw
		return false
	}
	if -dLng-dLat*0.5 > hdist { // sw
		return false
	}
	return true
}

// FilterHexMembership：对已按包围盒筛选的候选点裁掉对角区域，并将秒偏移平移 2700 秒
// 约束：vdist 仅由包围盒使用，对角判定只依赖 hdist；不修改输入切片
func FilterHexMembership(points []SpawnTime, center orb.Point, hdist, vdist, r float64) []SpawnTime {
	out := make([]SpawnTime, 0, len(points))
	for _, p := range points {
		dLat, dLng := Offset(center, p.Point, r)
		if !InHex(dLat, dLng, hdist) {
			continue
		}
		p.Time = ShiftSecond(p.Time)
		out = append(out, p)
	}
	return out
}

// ShiftSecond：(t + 2700) mod 3600，结果落在 [0, 3600)
func ShiftSecond(t int) int {
	v := (t + 2700) % 3600
	if v < 0 {
		v += 3600
	}
	return v
}
