package palette

import "image/color"

func rgb(r, g, b uint8) color.RGBA { return color.RGBA{R: r, G: g, B: b, A: 255} }

// cityscapesTrain are the 19 Cityscapes evaluation classes ordered by train id.
// GTA5 labels use the same colours.
var cityscapesTrain = Palette{
	{"road", rgb(128, 64, 128), 0},
	{"sidewalk", rgb(244, 35, 232), 1},
	{"building", rgb(70, 70, 70), 2},
	{"wall", rgb(102, 102, 156), 3},
	{"fence", rgb(190, 153, 153), 4},
	{"pole", rgb(153, 153, 153), 5},
	{"traffic light", rgb(250, 170, 30), 6},
	{"traffic sign", rgb(220, 220, 0), 7},
	{"vegetation", rgb(107, 142, 35), 8},
	{"terrain", rgb(152, 251, 152), 9},
	{"sky", rgb(70, 130, 180), 10},
	{"person", rgb(220, 20, 60), 11},
	{"rider", rgb(255, 0, 0), 12},
	{"car", rgb(0, 0, 142), 13},
	{"truck", rgb(0, 0, 70), 14},
	{"bus", rgb(0, 60, 100), 15},
	{"train", rgb(0, 80, 100), 16},
	{"motorcycle", rgb(0, 0, 230), 17},
	{"bicycle", rgb(119, 11, 32), 18},
}

var camVid = Palette{
	{"Animal", rgb(64, 128, 64), 0},
	{"Archway", rgb(192, 0, 128), 1},
	{"Bicyclist", rgb(0, 128, 192), 2},
	{"Bridge", rgb(0, 128, 64), 3},
	{"Building", rgb(128, 0, 0), 4},
	{"Car", rgb(64, 0, 128), 5},
	{"CartLuggagePram", rgb(64, 0, 192), 6},
	{"Child", rgb(192, 128, 64), 7},
	{"Column_Pole", rgb(192, 192, 128), 8},
	{"Fence", rgb(64, 64, 128), 9},
	{"LaneMkgsDriv", rgb(128, 0, 192), 10},
	{"LaneMkgsNonDriv", rgb(192, 0, 64), 11},
	{"Misc_Text", rgb(128, 128, 64), 12},
	{"MotorcycleScooter", rgb(192, 0, 192), 13},
	{"OtherMoving", rgb(128, 64, 64), 14},
	{"ParkingBlock", rgb(64, 192, 128), 15},
	{"Pedestrian", rgb(64, 64, 0), 16},
	{"Road", rgb(128, 64, 128), 17},
	{"RoadShoulder", rgb(128, 128, 192), 18},
	{"Sidewalk", rgb(0, 0, 192), 19},
	{"SignSymbol", rgb(192, 128, 128), 20},
	{"Sky", rgb(128, 128, 128), 21},
	{"SUVPickupTruck", rgb(64, 128, 192), 22},
	{"TrafficCone", rgb(0, 0, 64), 23},
	{"TrafficLight", rgb(0, 64, 64), 24},
	{"Train", rgb(192, 64, 128), 25},
	{"Tree", rgb(128, 128, 0), 26},
	{"Truck_Bus", rgb(192, 128, 192), 27},
	{"Tunnel", rgb(64, 0, 64), 28},
	{"VegetationMisc", rgb(192, 192, 0), 29},
	{"Void", rgb(0, 0, 0), 30},
	{"Wall", rgb(64, 192, 0), 31},
}

// Cityscapes returns a copy of the Cityscapes train-class palette.
func Cityscapes() Palette { return append(Palette(nil), cityscapesTrain...) }

// CamVid returns a copy of the 32-class CamVid palette.
func CamVid() Palette { return append(Palette(nil), camVid...) }
