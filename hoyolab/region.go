package hoyolab

import (
	"strconv"

	"github.com/KT-Yeh/Genshin-Discord-Bot-sub000/models"
)

type Region int

const (
	RegionOverseas Region = iota // HoYoLAB
	RegionChina                  // miHoYo
)

func (r Region) String() string {
	if r == RegionChina {
		return "china"
	}
	return "overseas"
}

func (r Region) Language() string {
	if r == RegionChina {
		return "zh-cn"
	}
	return "en-us"
}

// RegionForUID picks the vendor region from the first digit of the in-game
// UID. An unknown UID is treated as overseas.
func RegionForUID(uid int) Region {
	switch leadingDigit(uid) {
	case '1', '2', '3', '5':
		return RegionChina
	default:
		return RegionOverseas
	}
}

var genshinServers = map[byte]string{
	'1': "cn_gf01",
	'2': "cn_gf01",
	'3': "cn_gf01",
	'5': "cn_qd01",
	'6': "os_usa",
	'7': "os_euro",
	'8': "os_asia",
	'9': "os_cht",
}

var starrailServers = map[byte]string{
	'1': "prod_gf_cn",
	'2': "prod_gf_cn",
	'3': "prod_gf_cn",
	'5': "prod_qd_cn",
	'6': "prod_official_usa",
	'7': "prod_official_eur",
	'8': "prod_official_asia",
	'9': "prod_official_cht",
}

// ServerForUID returns the game server id the record API expects.
func ServerForUID(game models.Game, uid int) string {
	d := leadingDigit(uid)
	switch game {
	case models.GameGenshin:
		if s, ok := genshinServers[d]; ok {
			return s
		}
		return "os_asia"
	case models.GameStarrail:
		if s, ok := starrailServers[d]; ok {
			return s
		}
		return "prod_official_asia"
	}
	return ""
}

func leadingDigit(uid int) byte {
	if uid <= 0 {
		return '0'
	}
	return strconv.Itoa(uid)[0]
}
