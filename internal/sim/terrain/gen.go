package terrain

import "lifeline.ai/internal/world"

const (
	seaLevel    = 62
	chunkSize   = 16
	regionSize  = 256
	maxRelief   = 48
	snowLine    = 100
	spawnRadius = 24
)

type biome uint8

const (
	biomePlains biome = iota
	biomeDesert
	biomeMountains
	biomeOcean
)

// column is the generated surface of one (x, z).
type column struct {
	height   int
	material world.Material
}

func biomeAt(seed int64, x, z int) biome {
	rx := floorDiv(x, regionSize)
	rz := floorDiv(z, regionSize)
	switch hash2(seed, rx, rz) % 8 {
	case 0, 1, 2:
		return biomePlains
	case 3, 4:
		return biomeDesert
	case 5, 6:
		return biomeMountains
	default:
		return biomeOcean
	}
}

// heightAt blends a coarse per-region base with fine per-cell jitter.
func heightAt(seed int64, b biome, x, z int) int {
	coarse := int(hash2(seed+11, floorDiv(x, 32), floorDiv(z, 32)) % maxRelief)
	fine := int(hash2(seed+12, x, z) % 3)
	switch b {
	case biomeOcean:
		return seaLevel - 8 + fine
	case biomeDesert:
		return seaLevel + 2 + coarse/6 + fine
	case biomeMountains:
		return seaLevel + 16 + coarse + fine
	default:
		return seaLevel + 1 + coarse/4 + fine
	}
}

func generate(seed int64, x, z int) column {
	if withinSpawnClear(x, z, spawnRadius) {
		return column{height: seaLevel + 1, material: world.MaterialGrass}
	}

	b := biomeAt(seed, x, z)
	h := heightAt(seed, b, x, z)
	c := column{height: h}

	// Hazards first so every biome keeps some unsafe ground.
	switch {
	case b == biomeOcean:
		c.height = seaLevel
		c.material = world.MaterialWater
		return c
	case inCluster(seed+101, x, z, 96, 6, 250):
		c.height = seaLevel
		c.material = world.MaterialWater
		return c
	case b == biomeDesert && inCluster(seed+102, x, z, 128, 4, 200):
		c.material = world.MaterialLava
		return c
	case b == biomeMountains && h >= snowLine && inCluster(seed+103, x, z, 48, 5, 400):
		c.material = world.MaterialPowderSnow
		return c
	}

	switch b {
	case biomeDesert:
		c.material = world.MaterialSand
	case biomeMountains:
		switch {
		case h >= snowLine:
			c.material = world.MaterialSnow
		case hash2(seed+201, x, z)%4 == 0:
			c.material = world.MaterialGravel
		default:
			c.material = world.MaterialStone
		}
	default:
		if inCluster(seed+301, x, z, 48, 3, 300) {
			c.material = world.MaterialDirt
		} else {
			c.material = world.MaterialGrass
		}
	}
	return c
}

func withinSpawnClear(x, z, radius int) bool {
	r := int64(radius)
	dx := int64(x)
	dz := int64(z)
	return dx*dx+dz*dz <= r*r
}

// inCluster reports whether (x, z) falls inside a disc centred somewhere in a nearby grid cell.
// Each cell hosts a disc with probability probPermille/1000.
func inCluster(seed int64, x, z, grid, radius int, probPermille uint64) bool {
	if grid <= 0 || radius <= 0 || probPermille == 0 {
		return false
	}
	gx := floorDiv(x, grid)
	gz := floorDiv(z, grid)
	r2 := radius * radius

	for dz := -1; dz <= 1; dz++ {
		for dx := -1; dx <= 1; dx++ {
			cgx := gx + dx
			cgz := gz + dz
			h := hash2(seed, cgx, cgz)
			if h%1000 >= probPermille {
				continue
			}
			cx := cgx*grid + int((h>>10)%uint64(grid))
			cz := cgz*grid + int((h>>20)%uint64(grid))
			ddx := x - cx
			ddz := z - cz
			if ddx*ddx+ddz*ddz <= r2 {
				return true
			}
		}
	}
	return false
}

func floorDiv(a, b int) int {
	q := a / b
	if r := a % b; r < 0 {
		q--
	}
	return q
}

func mod(a, b int) int {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

func mix64(z uint64) uint64 {
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

func hash2(seed int64, x, z int) uint64 {
	ux := uint64(uint32(int32(x)))
	uz := uint64(uint32(int32(z)))
	return mix64(uint64(seed) ^ (ux * 0x9e3779b97f4a7c15) ^ (uz * 0xbf58476d1ce4e5b9))
}
