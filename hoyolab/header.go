package hoyolab

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/KT-Yeh/Genshin-Discord-Bot-sub000/models"
)

const (
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/134.0.0.0 Safari/537.36"

	overseasSalt = "6s25p5ox5y14umn1p61aqyyvbvvl3lrt"
	chinaSalt    = "xV8v4Qu54lUKrEYFZkJhB8cuOh9Asafs"
)

// generateHeaders returns the headers every vendor request carries. The
// cookie is sent verbatim.
func generateHeaders(cookie string, region Region) map[string]string {
	headers := map[string]string{
		"User-Agent":        userAgent,
		"Accept":            "application/json, text/plain, */*",
		"Cookie":            cookie,
		"x-rpc-client_type": "5",
		"x-rpc-language":    region.Language(),
	}
	if region == RegionChina {
		headers["x-rpc-app_version"] = "2.40.1"
		headers["Origin"] = "https://webstatic.mihoyo.com"
		headers["Referer"] = "https://webstatic.mihoyo.com/"
	} else {
		headers["x-rpc-app_version"] = "1.5.0"
		headers["Origin"] = "https://act.hoyolab.com"
		headers["Referer"] = "https://act.hoyolab.com/"
	}
	return headers
}

// generatePostHeaders adds the JSON body headers and the game tag the China
// sign endpoint needs.
func generatePostHeaders(cookie string, region Region, game models.Game) map[string]string {
	headers := generateHeaders(cookie, region)
	headers["Content-Type"] = "application/json;charset=utf-8"
	if region == RegionChina {
		headers["x-rpc-signgame"] = signGame(game)
	}
	return headers
}

func signGame(game models.Game) string {
	if game == models.GameStarrail {
		return "hkrpg"
	}
	return "hk4e"
}

// dynamicSecret signs a request. The overseas form only hashes the salt and
// a nonce; the China form also covers the body and query.
func dynamicSecret(region Region, now time.Time, body, query string) string {
	t := now.Unix()
	if region == RegionChina {
		r := rand.Intn(100000) + 100001
		sum := md5.Sum([]byte(fmt.Sprintf("salt=%s&t=%d&r=%d&b=%s&q=%s", chinaSalt, t, r, body, query)))
		return fmt.Sprintf("%d,%d,%s", t, r, hex.EncodeToString(sum[:]))
	}

	r := randomString(6)
	sum := md5.Sum([]byte("salt=" + overseasSalt + "&t=" + strconv.FormatInt(t, 10) + "&r=" + r))
	return fmt.Sprintf("%d,%s,%s", t, r, hex.EncodeToString(sum[:]))
}

const nonceChars = "abcdefghijklmnopqrstuvwxyz0123456789"

func randomString(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = nonceChars[rand.Intn(len(nonceChars))]
	}
	return string(b)
}
